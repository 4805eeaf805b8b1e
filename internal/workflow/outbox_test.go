package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/frahmantamala/asset-loan/internal/calendar"
	"github.com/frahmantamala/asset-loan/internal/core/events"
	"github.com/frahmantamala/asset-loan/internal/workflow"
	"github.com/frahmantamala/asset-loan/internal/workflow/mocks"
)

type recordingPublisher struct {
	fail map[string]bool
	seen []string
}

func (p *recordingPublisher) PublishSync(_ context.Context, e events.Event) error {
	if p.fail[e.EventID()] {
		return errors.New("subscriber down")
	}
	p.seen = append(p.seen, e.EventID())
	return nil
}

func message(seq int64, aggregate string) workflow.OutboxMessage {
	return workflow.OutboxMessage{
		Sequence: seq,
		Event: &events.BaseEvent{
			ID:        aggregate + "-" + string(rune('a'+seq)),
			Type:      events.EventTypeStatusChanged,
			Aggregate: aggregate,
			Timestamp: time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC),
		},
	}
}

var _ = Describe("Relay", func() {
	var (
		ctrl  *gomock.Controller
		store *mocks.MockOutboxStore
		clock *calendar.FixedClock
		relay *workflow.Relay
		pub   *recordingPublisher
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		store = mocks.NewMockOutboxStore(ctrl)
		clock = calendar.NewFixedClock(time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC))
		pub = &recordingPublisher{fail: map[string]bool{}}
		relay = workflow.NewRelay(store, pub, clock, 50, 5, slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	It("dispatches in sequence order and marks each message", func() {
		msgs := []workflow.OutboxMessage{message(1, "app-1"), message(2, "app-2"), message(3, "app-1")}
		store.EXPECT().Pending(gomock.Any(), 50, 5).Return(msgs, nil)
		store.EXPECT().MarkDispatched(gomock.Any(), int64(1), clock.Now()).Return(nil)
		store.EXPECT().MarkDispatched(gomock.Any(), int64(2), clock.Now()).Return(nil)
		store.EXPECT().MarkDispatched(gomock.Any(), int64(3), clock.Now()).Return(nil)

		report, err := relay.DispatchOnce(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Dispatched).To(Equal(3))
		Expect(pub.seen).To(Equal([]string{msgs[0].Event.ID, msgs[1].Event.ID, msgs[2].Event.ID}))
	})

	It("holds back later events of an application after a failure", func() {
		msgs := []workflow.OutboxMessage{message(1, "app-1"), message(2, "app-2"), message(3, "app-1")}
		pub.fail[msgs[0].Event.ID] = true

		store.EXPECT().Pending(gomock.Any(), 50, 5).Return(msgs, nil)
		store.EXPECT().MarkFailed(gomock.Any(), int64(1), gomock.Any()).Return(nil)
		store.EXPECT().MarkDispatched(gomock.Any(), int64(2), gomock.Any()).Return(nil)

		report, err := relay.DispatchOnce(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Dispatched).To(Equal(1))
		Expect(report.Failed).To(Equal(1))
		Expect(pub.seen).To(Equal([]string{msgs[1].Event.ID}))
	})

	It("returns store errors", func() {
		store.EXPECT().Pending(gomock.Any(), 50, 5).Return(nil, errors.New("db down"))
		_, err := relay.DispatchOnce(context.Background())
		Expect(err).To(MatchError("db down"))
	})
})
