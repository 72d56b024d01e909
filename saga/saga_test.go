package saga

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseract-hub/go-messaging/apperrors"
	"github.com/tesseract-hub/go-messaging/internal/natstest"
)

type orderData struct {
	OrderID string   `json:"orderId"`
	Journal []string `json:"journal"`
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func journalStep(name string, fail bool) (exec, comp func(ctx context.Context, d *orderData) error) {
	exec = func(ctx context.Context, d *orderData) error {
		if fail {
			return errors.New(name + " blew up")
		}
		d.Journal = append(d.Journal, "do:"+name)
		return nil
	}
	comp = func(ctx context.Context, d *orderData) error {
		d.Journal = append(d.Journal, "undo:"+name)
		return nil
	}
	return exec, comp
}

func TestSagaHappyPath(t *testing.T) {
	e1, c1 := journalStep("reserve", false)
	e2, c2 := journalStep("charge", false)
	s := New[orderData]("place-order").
		Step("reserve", e1, c1).
		Step("charge", e2, c2)

	store := NewMemoryStateStore[orderData]()
	o := NewOrchestrator(s, store, quietLogger())

	state, err := o.Execute(context.Background(), orderData{OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"reserve", "charge"}, state.CompletedSteps)
	assert.Equal(t, []string{"do:reserve", "do:charge"}, state.Data.Journal)

	loaded, err := store.Load(context.Background(), state.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
}

func TestSagaRunsUnderSuppliedID(t *testing.T) {
	e1, c1 := journalStep("reserve", false)
	s := New[orderData]("place-order").Step("reserve", e1, c1)

	store := NewMemoryStateStore[orderData]()
	o := NewOrchestrator(s, store, quietLogger())

	state, err := o.ExecuteWithID(context.Background(), "order-o9", orderData{OrderID: "o9"})
	require.NoError(t, err)
	assert.Equal(t, "order-o9", state.ID)

	loaded, err := store.Load(context.Background(), "order-o9")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
}

func TestSagaCompensatesCompletedStepsInReverse(t *testing.T) {
	e1, c1 := journalStep("reserve", false)
	e2, c2 := journalStep("charge", false)
	e3, c3 := journalStep("ship", true)
	s := New[orderData]("place-order").
		Step("reserve", e1, c1).
		Step("charge", e2, c2).
		Step("ship", e3, c3)

	store := NewMemoryStateStore[orderData]()
	o := NewOrchestrator(s, store, quietLogger())

	state, err := o.Execute(context.Background(), orderData{OrderID: "o2"})
	require.Error(t, err)
	assert.Equal(t, "Saga.Failed", apperrors.From(err).Code)
	assert.Equal(t, StatusCompensated, state.Status)
	assert.Contains(t, state.Error, "ship blew up")

	// Only the completed prefix is undone, newest first. The failing step
	// never ran to completion, so its compensation must not run.
	assert.Equal(t,
		[]string{"do:reserve", "do:charge", "undo:charge", "undo:reserve"},
		state.Data.Journal)
}

func TestSagaContinuesWhenCompensationFails(t *testing.T) {
	e1, c1 := journalStep("reserve", false)
	e2, _ := journalStep("charge", false)
	badComp := func(ctx context.Context, d *orderData) error {
		return errors.New("refund service down")
	}
	e3, _ := journalStep("ship", true)

	s := New[orderData]("place-order").
		Step("reserve", e1, c1).
		Step("charge", e2, badComp).
		Step("ship", e3, nil)

	o := NewOrchestrator(s, NewMemoryStateStore[orderData](), quietLogger())

	state, err := o.Execute(context.Background(), orderData{})
	require.Error(t, err)
	assert.Equal(t, StatusCompensated, state.Status)
	// The broken charge compensation did not stop reserve from undoing.
	assert.Contains(t, state.Data.Journal, "undo:reserve")
}

func TestSagaStepWithoutCompensationIsSkipped(t *testing.T) {
	e1, _ := journalStep("audit", false)
	e2, c2 := journalStep("charge", false)
	e3, _ := journalStep("ship", true)

	s := New[orderData]("place-order").
		StepNoCompensate("audit", e1).
		Step("charge", e2, c2).
		Step("ship", e3, nil)

	o := NewOrchestrator(s, NewMemoryStateStore[orderData](), quietLogger())

	state, err := o.Execute(context.Background(), orderData{})
	require.Error(t, err)
	assert.Equal(t,
		[]string{"do:audit", "do:charge", "undo:charge"},
		state.Data.Journal)
}

func TestKVStateStoreRoundTrip(t *testing.T) {
	ns := natstest.RunServer(t)
	_, js := natstest.Connect(t, ns)

	ctx := context.Background()
	kv, err := EnsureBucket(ctx, js, "saga-state")
	require.NoError(t, err)

	store := NewKVStateStore[orderData](kv)
	state := &State[orderData]{
		ID:       "run-1",
		SagaName: "place-order",
		Status:   StatusRunning,
		Data:     orderData{OrderID: "o3"},
	}
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "place-order", loaded.SagaName)
	assert.Equal(t, "o3", loaded.Data.OrderID)

	_, err = store.Load(ctx, "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}
