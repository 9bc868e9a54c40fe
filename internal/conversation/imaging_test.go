package conversation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneChronicle/internal/models"
	"github.com/Corphon/SceneChronicle/internal/visual"
)

func everyLine() *visual.Cadence {
	return visual.NewCadence(1, 1, rand.New(rand.NewSource(1)))
}

func imageMessages(msgs []models.Message) []models.Message {
	var out []models.Message
	for _, m := range msgs {
		if m.Kind == models.KindImage {
			out = append(out, m)
		}
	}
	return out
}

func TestImagePipelineReplacesPlaceholder(t *testing.T) {
	events := &eventLog{}
	synth := &fakeSynthesizer{ref: "data:image/png;base64,AAAA"}
	s := newTestSession(t, sessionOpts{
		chars:     1,
		describer: &fakeDescriber{text: " Eve waves from the sofa. "},
		synth:     synth,
		cadence:   everyLine(),
		listener:  events,
	})

	runTurns(t, s, 1)
	s.Wait()

	images := imageMessages(s.Messages())
	require.Len(t, images, 1)
	assert.Equal(t, models.StateFinal, images[0].State)
	assert.Equal(t, models.SenderSystem, images[0].Sender)
	assert.Equal(t, "data:image/png;base64,AAAA", images[0].ImageURL)
	assert.Equal(t, "Eve waves from the sofa.", images[0].Text)
	assert.Equal(t, "Eve waves from the sofa.", synth.last.Description)
	assert.Equal(t, "scen_test", synth.last.ScenarioID)
	assert.Contains(t, events.types(), EventMessageReplaced)
	assert.Equal(t, ImageIdle, s.State().Image)
	assert.Equal(t, 2, s.Memory().RawCounter, "images are not counted")
}

func TestImagePipelineFailsSilently(t *testing.T) {
	tests := []struct {
		name      string
		describer *fakeDescriber
		synth     *fakeSynthesizer
	}{
		{name: "describer error", describer: &fakeDescriber{err: errUnreachable}, synth: &fakeSynthesizer{ref: "x"}},
		{name: "empty description", describer: &fakeDescriber{text: "  "}, synth: &fakeSynthesizer{ref: "x"}},
		{name: "synthesizer error", describer: &fakeDescriber{text: "a room"}, synth: &fakeSynthesizer{err: errUnreachable}},
		{name: "empty reference", describer: &fakeDescriber{text: "a room"}, synth: &fakeSynthesizer{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, sessionOpts{chars: 1, describer: tt.describer, synth: tt.synth, cadence: everyLine()})

			runTurns(t, s, 1)
			s.Wait()

			msgs := s.Messages()
			assert.Empty(t, imageMessages(msgs))
			assert.Zero(t, pendingCount(msgs))
			require.Len(t, msgs, 2, "conversation is untouched")
			assert.Equal(t, models.StateFinal, msgs[1].State)
		})
	}
}

func TestImageCadenceThreshold(t *testing.T) {
	synth := &fakeSynthesizer{ref: "img"}
	cadence := visual.NewCadence(3, 3, rand.New(rand.NewSource(1)))
	s := newTestSession(t, sessionOpts{chars: 1, describer: &fakeDescriber{text: "scene"}, synth: synth, cadence: cadence})

	runTurns(t, s, 2)
	s.Wait()
	assert.Zero(t, synth.calls)

	runTurns(t, s, 1)
	s.Wait()
	assert.Equal(t, 1, synth.calls)
	assert.Zero(t, s.State().ImageSince)
}

func TestImagePipelineDoesNotBlockTurns(t *testing.T) {
	synth := &fakeSynthesizer{ref: "img", gate: make(chan struct{})}
	s := newTestSession(t, sessionOpts{chars: 1, describer: &fakeDescriber{text: "scene"}, synth: synth, cadence: everyLine()})

	runTurns(t, s, 1)
	require.Eventually(t, func() bool { return s.State().Image == ImageGenerating }, time.Second, time.Millisecond)

	runTurns(t, s, 2)
	assert.Equal(t, ImageGenerating, s.State().Image)
	assert.Len(t, imageMessages(s.Messages()), 1, "no second pipeline while one is in flight")

	synth.gate <- struct{}{}
	s.Wait()
	assert.Equal(t, 1, synth.calls)
}

func TestForceImage(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newTestSession(t, sessionOpts{chars: 1})
		assert.ErrorIs(t, s.ForceImage(), ErrImagesDisabled)
	})

	t.Run("busy", func(t *testing.T) {
		synth := &fakeSynthesizer{ref: "img", gate: make(chan struct{})}
		s := newTestSession(t, sessionOpts{chars: 1, synth: synth})

		require.NoError(t, s.ForceImage())
		assert.ErrorIs(t, s.ForceImage(), ErrImageInProgress)

		synth.gate <- struct{}{}
		s.Wait()
		require.Len(t, imageMessages(s.Messages()), 1)
	})

	t.Run("fallback description without describer", func(t *testing.T) {
		synth := &fakeSynthesizer{ref: "img"}
		s := newTestSession(t, sessionOpts{chars: 1, synth: synth})
		runTurns(t, s, 1)
		s.Wait()

		require.NoError(t, s.ForceImage())
		s.Wait()
		assert.Contains(t, synth.last.Description, "Eve, short hair")
	})
}

func TestForceImageResetsCadence(t *testing.T) {
	cadence := visual.NewCadence(3, 3, rand.New(rand.NewSource(1)))
	s := newTestSession(t, sessionOpts{chars: 1, synth: &fakeSynthesizer{ref: "img"}, cadence: cadence})
	runTurns(t, s, 2)
	s.Wait()
	require.Equal(t, 2, s.State().ImageSince)

	require.NoError(t, s.ForceImage())
	s.Wait()
	assert.Zero(t, s.State().ImageSince)
}

func TestForceImageWhileBusyKeepsCadence(t *testing.T) {
	cadence := visual.NewCadence(3, 3, rand.New(rand.NewSource(1)))
	synth := &fakeSynthesizer{ref: "img", gate: make(chan struct{})}
	s := newTestSession(t, sessionOpts{chars: 1, synth: synth, cadence: cadence})

	require.NoError(t, s.ForceImage())
	runTurns(t, s, 2)
	require.Eventually(t, func() bool { return s.State().ImageSince == 2 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.ForceImage(), ErrImageInProgress)
	assert.Equal(t, 2, s.State().ImageSince, "a refused trigger leaves the count alone")

	synth.gate <- struct{}{}
	s.Wait()
	assert.Equal(t, 1, synth.calls)
}

func TestStartImageWithCanceledSession(t *testing.T) {
	synth := &fakeSynthesizer{ref: "img", gate: make(chan struct{})}
	s := newTestSession(t, sessionOpts{chars: 1, synth: synth})
	require.NoError(t, s.ForceImage())
	s.Close()

	assert.Empty(t, imageMessages(s.Messages()))
}
