package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sms-panel/internal/models"
	"sms-panel/internal/util"
)

// SendService submits SMS batches and keeps the send history. Each submission
// is recorded optimistically before the network call and reconciled in place
// when the result arrives, so the history always shows the attempt even if
// the process dies mid-flight.
type SendService struct {
	mu       sync.Mutex
	backend  Backend
	sessions *SessionStore
	settings *SettingsService
	store    Store
	notifier *Notifier

	senderEmail string
	history     []models.SendRecord
	inFlight    int
}

func NewSendService(backend Backend, sessions *SessionStore, settings *SettingsService, store Store, notifier *Notifier, senderEmail string) *SendService {
	return &SendService{
		backend:     backend,
		sessions:    sessions,
		settings:    settings,
		store:       store,
		notifier:    notifier,
		senderEmail: senderEmail,
	}
}

// Load restores persisted history at startup. In-flight records from a
// previous run are marked failed; their outcome is unknowable.
func (s *SendService) Load() {
	records, err := s.store.LoadHistory()
	if err != nil {
		util.Warn("Could not load send history", util.ErrorField(err))
		return
	}
	for i := range records {
		if !records[i].Status.Terminal() {
			records[i].Status = models.SendFailed
		}
	}

	s.mu.Lock()
	s.history = records
	s.mu.Unlock()
}

// Submit validates and sends a batch. Validation failures return before any
// record is created or any network traffic happens. The returned record is
// the final reconciled state.
func (s *SendService) Submit(ctx context.Context, recipient string, count int, mode models.SendMode) (models.SendRecord, error) {
	session := s.sessions.Current()
	if !session.Authenticated {
		return models.SendRecord{}, ErrNotAuthenticated
	}
	if s.settings.APIURL() == "" {
		return models.SendRecord{}, fmt.Errorf("%w: no SMS provider URL is set", ErrConfig)
	}

	recipient = util.DigitsOnly(recipient)
	if len(recipient) != 10 {
		return models.SendRecord{}, fmt.Errorf("%w: recipient must be a 10-digit number", ErrValidation)
	}
	if count < 1 {
		return models.SendRecord{}, fmt.Errorf("%w: count must be at least 1", ErrValidation)
	}
	if mode != models.ModeNormal && mode != models.ModeTurbo {
		return models.SendRecord{}, fmt.Errorf("%w: unknown send mode", ErrValidation)
	}
	if !session.Unlimited() && session.DailyQuota > 0 && session.DailyUsed+count > session.DailyQuota {
		remaining := session.DailyQuota - session.DailyUsed
		if remaining < 0 {
			remaining = 0
		}
		return models.SendRecord{}, fmt.Errorf("%w: daily limit reached, %d remaining", ErrValidation, remaining)
	}

	record := models.SendRecord{
		ID:             uuid.New().String(),
		Recipient:      recipient,
		RequestedCount: count,
		Mode:           mode,
		Status:         models.SendSending,
		CreatedAt:      time.Now(),
	}
	s.appendRecord(record)

	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	util.Info("Send submitted",
		util.String("record_id", record.ID),
		util.Int("count", count),
		util.String("mode", string(mode)),
	)

	res, err := s.backend.SendSMS(ctx, s.sessions.Token(), recipient, s.senderEmail, count, mode.Code())
	if err != nil {
		// Counts stay at zero; only a completed batch reports them.
		record.Status = models.SendFailed
		s.reconcile(record)

		wrapped := classifyAuthError(err)
		s.notifier.Error(userMessage(wrapped))
		return record, wrapped
	}

	s.applyRotation(res.NewToken)

	record.Status = models.SendCompleted
	record.SuccessCount = res.Success
	record.FailedCount = res.Failed
	s.reconcile(record)

	if res.Success > 0 && !session.Unlimited() {
		if err := s.sessions.Update(func(sess *models.Session) {
			sess.DailyUsed += res.Success
		}); err != nil {
			util.Warn("Usage counter not persisted", util.ErrorField(err))
		}
	}

	s.notifier.Success(fmt.Sprintf("Sent %d, failed %d", res.Success, res.Failed))
	return record, nil
}

// History returns the send records, newest first.
func (s *SendService) History() []models.SendRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SendRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Loading reports whether a submission is in flight.
func (s *SendService) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0
}

// ClearHistory wipes the history, in memory and in the durable store.
func (s *SendService) ClearHistory() error {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()

	if err := s.store.ClearHistory(); err != nil {
		return err
	}
	s.notifier.Info("History cleared")
	return nil
}

func (s *SendService) appendRecord(record models.SendRecord) {
	s.mu.Lock()
	s.history = append([]models.SendRecord{record}, s.history...)
	snapshot := make([]models.SendRecord, len(s.history))
	copy(snapshot, s.history)
	s.mu.Unlock()

	s.persist(snapshot)
}

// reconcile replaces the record with the same id. A record already in a
// terminal state is never moved backwards.
func (s *SendService) reconcile(record models.SendRecord) {
	s.mu.Lock()
	for i := range s.history {
		if s.history[i].ID == record.ID {
			if !s.history[i].Status.Terminal() {
				s.history[i] = record
			}
			break
		}
	}
	snapshot := make([]models.SendRecord, len(s.history))
	copy(snapshot, s.history)
	s.mu.Unlock()

	s.persist(snapshot)
}

func (s *SendService) persist(records []models.SendRecord) {
	if err := s.store.SaveHistory(records); err != nil {
		util.Warn("Send history not persisted", util.ErrorField(err))
	}
}

func (s *SendService) applyRotation(newToken string) {
	if err := s.sessions.RotateToken(newToken); err != nil {
		util.Warn("Rotated token not persisted", util.ErrorField(err))
	}
}
