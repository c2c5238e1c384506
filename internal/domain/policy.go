package domain

// ReminderPolicy configures when and how to notify around a due date.
// At most one policy per organization has IsDefault set.
type ReminderPolicy struct {
	ID             int64
	OrganizationID int64
	Name           string

	Rules      ReminderRules
	Channels   ChannelSet
	QuietHours QuietHours

	IsActive  bool
	IsDefault bool
}

type ReminderRules struct {
	BeforeDue []BeforeDueOffset `json:"beforeDue,omitempty"`
	OnDue     bool              `json:"onDue"`
	AfterDue  []AfterDueOffset  `json:"afterDue,omitempty"`
}

type BeforeDueOffset struct {
	Days  int `json:"days"`
	Hours int `json:"hours"`
}

type AfterDueOffset struct {
	Days int `json:"days"`
}

type ChannelSet struct {
	InApp    bool `json:"inApp"`
	Email    bool `json:"email"`
	WhatsApp bool `json:"whatsapp"`
	SMS      bool `json:"sms"`
}

// Enabled lists the enabled channels in a stable order.
func (c ChannelSet) Enabled() []Channel {
	var out []Channel
	if c.InApp {
		out = append(out, ChannelInApp)
	}
	if c.Email {
		out = append(out, ChannelEmail)
	}
	if c.WhatsApp {
		out = append(out, ChannelWhatsApp)
	}
	if c.SMS {
		out = append(out, ChannelSMS)
	}
	return out
}

// QuietHours is a local time window, "HH:MM" bounds in Timezone.
type QuietHours struct {
	Enabled         bool   `json:"enabled"`
	Start           string `json:"start"`
	End             string `json:"end"`
	Timezone        string `json:"timezone"`
	ExcludeWeekends bool   `json:"excludeWeekends"`
}

// EscalationPolicy has no organization-level default.
type EscalationPolicy struct {
	ID             int64
	OrganizationID int64
	Name           string
	Rules          EscalationRules
	IsActive       bool
}

type EscalationRules struct {
	Triggers           []EscalationTrigger `json:"triggers"`
	MaxEscalationLevel int                 `json:"maxEscalationLevel"`
}

type EscalationTrigger struct {
	DaysOverdue     int      `json:"daysOverdue"`
	NotifyUserIDs   []int64  `json:"notifyUserIds,omitempty"`
	NotifyRoles     []string `json:"notifyRoles,omitempty"`
	NotifyTeamIDs   []int64  `json:"notifyTeamIds,omitempty"`
	EscalationLevel int      `json:"escalationLevel"`
}
