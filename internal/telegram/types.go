package telegram

import (
	"strings"

	"approve-bot/internal/plans"
)

// Command is a bot command without the leading slash
type Command string

const (
	CmdStart         Command = "start"
	CmdHelp          Command = "help"
	CmdUpgrade       Command = "upgrade"
	CmdUpgradeStatus Command = "upgrade_status"
	CmdSubInfo       Command = "subinfo"
	CmdStats         Command = "stats"
)

func (c Command) String() string {
	return string(c)
}

func (c Command) IsValid() bool {
	switch c {
	case CmdStart, CmdHelp, CmdUpgrade, CmdUpgradeStatus, CmdSubInfo, CmdStats:
		return true
	}
	return false
}

func (c Command) IsAdminOnly() bool {
	switch c {
	case CmdSubInfo, CmdStats:
		return true
	}
	return false
}

// CallbackData is a complete callback payload
type CallbackData string

const (
	CallbackPlansRoot CallbackData = "plans_root"
)

func (c CallbackData) String() string {
	return string(c)
}

// CallbackPrefix is a callback payload prefix followed by a plan id
type CallbackPrefix string

const (
	CallbackPlanDetails CallbackPrefix = "plans_"
	CallbackBuy         CallbackPrefix = "buy_"
	CallbackVerify      CallbackPrefix = "verify_"
)

func (c CallbackPrefix) String() string {
	return string(c)
}

func (c CallbackPrefix) WithPlan(id plans.ID) string {
	return string(c) + id.String()
}

// ParsePlan extracts the plan id from data carrying this prefix.
func (c CallbackPrefix) ParsePlan(data string) (plans.ID, bool) {
	if !strings.HasPrefix(data, string(c)) {
		return "", false
	}
	id, err := plans.ParseID(strings.TrimPrefix(data, string(c)))
	if err != nil {
		return "", false
	}
	return id, true
}
