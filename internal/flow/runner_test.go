package flow

import (
	"errors"
	"testing"

	"github.com/sit-app/sit/internal/models"
)

func twoStepFlow() models.FlowDefinition {
	return models.FlowDefinition{
		ID: "f1", UserID: "u1", Name: "Check-in",
		Steps: []models.FlowStep{
			{
				ID: 1, Title: "Mood", Prompt: "How are you feeling?",
				Answers: []models.FlowAnswer{
					{Label: "Calm", Destination: models.SubmitDestination()},
					{Label: "Restless", Destination: models.StepDestination(2)},
				},
			},
			{
				ID: 2, Title: "Note", Prompt: "Want to say more?",
				Answers: []models.FlowAnswer{
					{Label: "Record", Destination: models.SubmitDestination(), RecordVoiceNote: true},
					{Label: "No", Destination: models.SubmitDestination()},
				},
			},
		},
	}
}

func TestRunnerShortPath(t *testing.T) {
	r, err := NewRunner(twoStepFlow())
	if err != nil {
		t.Fatalf("new runner failed: %v", err)
	}
	if r.Current().ID != 1 {
		t.Fatalf("walk should start at first step, got %d", r.Current().ID)
	}

	done, err := r.Answer(0)
	if err != nil || !done {
		t.Fatalf("expected finished walk, done=%v err=%v", done, err)
	}
	res, err := r.Result()
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if len(res.Steps) != 1 || res.Steps[0] != (models.FlowStepResult{StepID: 1, AnswerIndex: 0}) {
		t.Errorf("unexpected path: %+v", res.Steps)
	}
	if res.RecordVoiceNote {
		t.Error("short path should not request a voice note")
	}
}

func TestRunnerBranchToVoiceNote(t *testing.T) {
	r, _ := NewRunner(twoStepFlow())

	if done, err := r.Answer(1); err != nil || done {
		t.Fatalf("expected walk to continue, done=%v err=%v", done, err)
	}
	if r.Current().ID != 2 {
		t.Fatalf("expected step 2, got %d", r.Current().ID)
	}
	if done, err := r.Answer(0); err != nil || !done {
		t.Fatalf("expected finished walk, done=%v err=%v", done, err)
	}

	res, _ := r.Result()
	want := []models.FlowStepResult{{StepID: 1, AnswerIndex: 1}, {StepID: 2, AnswerIndex: 0}}
	if len(res.Steps) != 2 || res.Steps[0] != want[0] || res.Steps[1] != want[1] {
		t.Errorf("unexpected path: %+v", res.Steps)
	}
	if !res.RecordVoiceNote {
		t.Error("final answer should request a voice note")
	}
}

func TestRunnerRejectsBadInput(t *testing.T) {
	if _, err := NewRunner(models.FlowDefinition{ID: "f", Name: "empty"}); err == nil {
		t.Error("runner must reject an invalid definition")
	}

	r, _ := NewRunner(twoStepFlow())
	if _, err := r.Answer(5); !errors.Is(err, ErrNoSuchAnswer) {
		t.Errorf("expected ErrNoSuchAnswer, got %v", err)
	}
	r.Answer(0)
	if _, err := r.Answer(0); !errors.Is(err, ErrWalkFinished) {
		t.Errorf("expected ErrWalkFinished, got %v", err)
	}
	if _, err := r.Result(); err != nil {
		t.Errorf("result after finish should work: %v", err)
	}
}
