package protocol

// CallState is the conversational step a call is currently on.
type CallState string

const (
	StateAskLanguage      CallState = "ASK_LANGUAGE"
	StateAskCityOrRegion  CallState = "ASK_CITY_OR_REGION"
	StateAskRegionConfirm CallState = "ASK_REGION_CONFIRM"
	StateAskTimeline      CallState = "ASK_TIMELINE"
	StateAskBudget        CallState = "ASK_BUDGET"
	StateAskRoomSize      CallState = "ASK_ROOM_SIZE"
	StateQualify          CallState = "QUALIFY"
	StateAskEmail         CallState = "ASK_EMAIL"
	StateClose            CallState = "CLOSE"
)

// CallStates lists every conversation state in conversational order.
var CallStates = []CallState{
	StateAskLanguage,
	StateAskCityOrRegion,
	StateAskRegionConfirm,
	StateAskTimeline,
	StateAskBudget,
	StateAskRoomSize,
	StateQualify,
	StateAskEmail,
	StateClose,
}

// Valid reports whether s is one of the enumerated call states.
func (s CallState) Valid() bool {
	switch s {
	case StateAskLanguage, StateAskCityOrRegion, StateAskRegionConfirm,
		StateAskTimeline, StateAskBudget, StateAskRoomSize,
		StateQualify, StateAskEmail, StateClose:
		return true
	}
	return false
}

// CallStatus is the lifecycle status of a call session.
type CallStatus string

const (
	CallInProgress CallStatus = "in_progress"
	CallEnded      CallStatus = "ended"
	CallFailed     CallStatus = "failed"
)

func (s CallStatus) Valid() bool {
	return s == CallInProgress || s == CallEnded || s == CallFailed
}

// QualificationStatus is the outcome of the qualification rule.
type QualificationStatus string

const (
	QualificationUnknown     QualificationStatus = "unknown"
	QualificationQualified   QualificationStatus = "qualified"
	QualificationNurture     QualificationStatus = "nurture"
	QualificationUnqualified QualificationStatus = "unqualified"
)

// ParseQualificationStatus maps a stored value back to a status.
// Empty or unrecognized values yield QualificationUnknown and false.
func ParseQualificationStatus(s string) (QualificationStatus, bool) {
	switch QualificationStatus(s) {
	case QualificationQualified, QualificationNurture, QualificationUnqualified:
		return QualificationStatus(s), true
	case QualificationUnknown:
		return QualificationUnknown, true
	}
	return QualificationUnknown, false
}

// QualificationReason explains a qualification decision.
type QualificationReason string

const (
	ReasonRegionNotServed QualificationReason = "REGION_NOT_SERVED"
	ReasonBudgetBelowMin  QualificationReason = "BUDGET_BELOW_MIN"
	ReasonBudgetAboveBand QualificationReason = "BUDGET_ABOVE_BAND"
)

// EventType classifies entries in the call event ledger.
type EventType string

const (
	EventCallStarted   EventType = "call_started"
	EventUserTurn      EventType = "user_turn"
	EventAssistantTurn EventType = "assistant_turn"
	EventQualification EventType = "qualification"
	EventCallEnded     EventType = "call_ended"
)

// Unknown is the sentinel stored in enumerated snapshot fields that have not been extracted yet.
const Unknown = "unknown"

// Language is the caller's preferred conversation language.
type Language string

const (
	LanguageHindi    Language = "hindi"
	LanguageHinglish Language = "hinglish"
	LanguageEnglish  Language = "english"
	LanguageUnknown  Language = Unknown
)

// Region is a normalized service region.
type Region string

const (
	RegionSouthIndia  Region = "south_india"
	RegionMaharashtra Region = "maharashtra"
	RegionDelhiNCR    Region = "delhi_ncr"
	RegionUnknown     Region = Unknown
)

// Served reports whether the region is one the business operates in.
func (r Region) Served() bool {
	return r == RegionSouthIndia || r == RegionMaharashtra || r == RegionDelhiNCR
}

// BudgetBand is a discretized budget range in lakhs.
type BudgetBand string

const (
	BudgetBelow6L BudgetBand = "below_6L"
	Budget6To9L   BudgetBand = "6_to_9L"
	BudgetAbove9L BudgetBand = "above_9L"
	BudgetUnknown BudgetBand = Unknown
)

// TimelineBucket is a discretized project start window.
type TimelineBucket string

const (
	TimelineImmediate TimelineBucket = "immediate"
	Timeline1Month    TimelineBucket = "1_month"
	Timeline2To3      TimelineBucket = "2_3_months"
	Timeline3Plus     TimelineBucket = "3_plus"
	TimelineUnknown   TimelineBucket = Unknown
)
