package domain

import "time"

// User описывает автора дневника в системе.
type User struct {
	ID              int64
	Tier            Tier
	AIPreference    AIPreference
	EngagementScore float64
	LastActivityAt  time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// JournalEntry представляет запись дневника. Подсистема её только читает.
type JournalEntry struct {
	ID          int64
	UserID      int64
	Text        string
	HasResponse bool
	CreatedAt   time.Time
}

// RejectionReason перечисляет причины отказа от вовлечения.
type RejectionReason string

const (
	RejectionNone               RejectionReason = ""
	RejectionPreferenceDisabled RejectionReason = "preference_disabled"
	RejectionEntryTooFresh      RejectionReason = "entry_too_fresh"
	RejectionEntryEmpty         RejectionReason = "entry_empty"
	RejectionNoPattern          RejectionReason = "no_engagement_pattern"
	RejectionDailyCapReached    RejectionReason = "daily_cap_reached"
	RejectionAlreadyEngaged     RejectionReason = "already_engaged"
)

// Opportunity — результат проверки записи на пригодность к вовлечению.
// Значение эфемерное: пересчитывается на каждом проходе и нигде не хранится.
type Opportunity struct {
	Eligible bool
	Reason   RejectionReason
	Entry    JournalEntry
	User     User
}

// EngagementStatus описывает состояние запланированного вовлечения.
type EngagementStatus string

const (
	EngagementPending   EngagementStatus = "pending"
	EngagementInFlight  EngagementStatus = "in_flight"
	EngagementDelivered EngagementStatus = "delivered"
	EngagementFailed    EngagementStatus = "failed"
	EngagementCancelled EngagementStatus = "cancelled"
)

// Terminal сообщает, допустимы ли дальнейшие переходы из статуса.
func (s EngagementStatus) Terminal() bool {
	switch s {
	case EngagementDelivered, EngagementFailed, EngagementCancelled:
		return true
	}
	return false
}

// ScheduledEngagement — запланированный ответ персоны на запись.
type ScheduledEngagement struct {
	ID        string
	EntryID   int64
	UserID    int64
	PersonaID PersonaID
	FireAt    time.Time
	Status    EngagementStatus
	CreatedAt time.Time
}

// ResponseOutcome описывает итог генерации ответа.
type ResponseOutcome string

const (
	OutcomeSuccess       ResponseOutcome = "success"
	OutcomeProviderError ResponseOutcome = "provider_error"
	OutcomeFallbackUsed  ResponseOutcome = "fallback_used"
)

// ResponseRecord — доставленный ответ. Запись добавляется ровно один раз.
type ResponseRecord struct {
	ID           string
	EngagementID string
	PersonaID    PersonaID
	Text         string
	Outcome      ResponseOutcome
	DeliveredAt  time.Time
}

// DailyUsage хранит счётчик доставленных вовлечений за сутки.
type DailyUsage struct {
	UserID          int64
	Day             time.Time
	Delivered       int
	LastDeliveredAt time.Time
}

// EngagementProfile — срез накопленной статистики пользователя.
type EngagementProfile struct {
	RecentlyActive    bool
	QualifiesPassive  bool
	PositiveReactions int
	EntriesInWindow   int
	AvgReactionDelay  time.Duration
	TopicCounts       map[Topic]int
}

// OutcomeKind перечисляет события, влияющие на статистику пользователя.
type OutcomeKind string

const (
	OutcomeEventEntryCreated      OutcomeKind = "entry_created"
	OutcomeEventReaction          OutcomeKind = "reaction"
	OutcomeEventReply             OutcomeKind = "reply"
	OutcomeEventDismissal         OutcomeKind = "dismissal"
	OutcomeEventResponseDelivered OutcomeKind = "response_delivered"
)

// Positive сообщает, считается ли событие положительной реакцией.
func (k OutcomeKind) Positive() bool {
	return k == OutcomeEventReaction || k == OutcomeEventReply
}

// OutcomeEvent фиксирует одно событие для трекера паттернов.
type OutcomeEvent struct {
	UserID        int64
	Kind          OutcomeKind
	Topic         Topic
	ReactionDelay time.Duration
	OccurredAt    time.Time
}
