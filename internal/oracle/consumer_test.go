package oracle

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/clob-engine/internal/engine"
	"github.com/atmx/clob-engine/internal/model"
	"github.com/atmx/clob-engine/internal/settlement"
)

type settleCall struct {
	eventID string
	winning int
}

// stubSettler fails the first failures calls with err, or every call when
// failures is zero.
type stubSettler struct {
	calls    []settleCall
	err      error
	failures int
}

func (s *stubSettler) SettleEvent(_ context.Context, eventID string, winning int) (*settlement.Result, error) {
	s.calls = append(s.calls, settleCall{eventID, winning})
	if s.err != nil && (s.failures == 0 || len(s.calls) <= s.failures) {
		return nil, s.err
	}
	return &settlement.Result{Settlement: &model.Settlement{EventID: eventID, WinningOutcome: winning}}, nil
}

type stubSession struct {
	ctx    context.Context
	marked int
}

func (s *stubSession) Context() context.Context                         { return s.ctx }
func (s *stubSession) Claims() map[string][]int32                       { return map[string][]int32{} }
func (s *stubSession) MemberID() string                                 { return "" }
func (s *stubSession) GenerationID() int32                              { return 0 }
func (s *stubSession) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *stubSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *stubSession) MarkMessage(_ *sarama.ConsumerMessage, _ string)  { s.marked++ }
func (s *stubSession) Commit()                                          {}

type stubClaim struct {
	msgCh chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string                            { return "oracle.resolutions" }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgCh }

func message(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "oracle.resolutions", Value: []byte(value)}
}

func TestHandleMessage(t *testing.T) {
	cases := []struct {
		name      string
		value     string
		settleErr error
		wantCalls int
		wantErr   bool
	}{
		{"valid", `{"event_id":"e1","winning_outcome":1,"proof":"0xabc"}`, nil, 1, false},
		{"outcome zero", `{"event_id":"e1","winning_outcome":0}`, nil, 1, false},
		{"not json", `nope`, nil, 0, false},
		{"missing outcome", `{"event_id":"e1"}`, nil, 0, false},
		{"missing event", `{"winning_outcome":1}`, nil, 0, false},
		{"duplicate", `{"event_id":"e1","winning_outcome":1}`, engine.ErrAlreadyFinalized, 1, false},
		{"unknown event", `{"event_id":"e9","winning_outcome":1}`, engine.ErrEventNotFound, 1, false},
		{"bad outcome", `{"event_id":"e1","winning_outcome":7}`, settlement.ErrInvalidOutcome, 1, false},
		{"transient", `{"event_id":"e1","winning_outcome":1}`, errors.New("boom"), 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &stubSettler{err: tc.settleErr}
			h := NewHandler(s, nil)
			err := h.HandleMessage(context.Background(), message(tc.value))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, s.calls, tc.wantCalls)
		})
	}
}

func TestHandleMessage_PassesResolution(t *testing.T) {
	s := &stubSettler{}
	h := NewHandler(s, nil)
	require.NoError(t, h.HandleMessage(context.Background(), message(`{"event_id":"election","winning_outcome":2}`)))
	require.Len(t, s.calls, 1)
	assert.Equal(t, settleCall{"election", 2}, s.calls[0])
}

func TestConsumeClaim_MarksHandledMessages(t *testing.T) {
	s := &stubSettler{}
	cg := &consumerGroupHandler{handler: NewHandler(s, nil), logger: slog.Default(), backoff: time.Millisecond}

	msgCh := make(chan *sarama.ConsumerMessage, 2)
	msgCh <- message(`{"event_id":"e1","winning_outcome":0}`)
	msgCh <- message(`garbage`)
	close(msgCh)

	session := &stubSession{ctx: context.Background()}
	require.NoError(t, cg.ConsumeClaim(session, &stubClaim{msgCh: msgCh}))
	assert.Equal(t, 2, session.marked)
}

func TestConsumeClaim_RetriesFailedMessageInPlace(t *testing.T) {
	s := &stubSettler{err: errors.New("database down"), failures: 2}
	cg := &consumerGroupHandler{handler: NewHandler(s, nil), logger: slog.Default(), backoff: time.Millisecond}

	msgCh := make(chan *sarama.ConsumerMessage, 2)
	msgCh <- message(`{"event_id":"e1","winning_outcome":1}`)
	msgCh <- message(`{"event_id":"e2","winning_outcome":0}`)
	close(msgCh)

	session := &stubSession{ctx: context.Background()}
	require.NoError(t, cg.ConsumeClaim(session, &stubClaim{msgCh: msgCh}))
	assert.Equal(t, 2, session.marked)
	require.Len(t, s.calls, 4)
	assert.Equal(t, []settleCall{{"e1", 1}, {"e1", 1}, {"e1", 1}, {"e2", 0}}, s.calls)
}

func TestConsumeClaim_EndedSessionLeavesFailureUnmarked(t *testing.T) {
	s := &stubSettler{err: errors.New("database down")}
	cg := &consumerGroupHandler{handler: NewHandler(s, nil), logger: slog.Default(), backoff: time.Millisecond}

	msgCh := make(chan *sarama.ConsumerMessage, 2)
	msgCh <- message(`{"event_id":"e1","winning_outcome":1}`)
	msgCh <- message(`{"event_id":"e2","winning_outcome":0}`)
	close(msgCh)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	session := &stubSession{ctx: ctx}
	require.NoError(t, cg.ConsumeClaim(session, &stubClaim{msgCh: msgCh}))
	assert.Zero(t, session.marked, "nothing after the failed message may be committed")
	assert.Equal(t, []settleCall{{"e1", 1}}, s.calls)
}

func TestNewConsumer_Validates(t *testing.T) {
	_, err := NewConsumer(nil, "group", nil)
	assert.Error(t, err)
	_, err = NewConsumer([]string{"localhost:9092"}, "", nil)
	assert.Error(t, err)

	c := &Consumer{}
	assert.NoError(t, c.Close())
	assert.Error(t, c.Consume(context.Background(), []string{"t"}, nil))
}
