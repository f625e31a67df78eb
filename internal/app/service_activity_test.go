package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ballora/api/internal/store"
)

func seedActivity(fs *fakeStore, ideaID, id, task, state string) store.Activity {
	activity := store.Activity{
		ID:            id,
		IdeaID:        ideaID,
		TaskName:      task,
		DurationWeeks: 4,
		State:         state,
	}
	fs.activities[ideaID] = append(fs.activities[ideaID], activity)
	return activity
}

func TestListActivitiesOutsideIncubation(t *testing.T) {
	cases := []struct {
		name    string
		state   string
		session Session
		wantSub string
	}{
		{"owner waiting", store.IdeaStateWaiting, ownerSession(), "You will see the activities"},
		{"owner ready", store.IdeaStateReady, ownerSession(), "don't need to track activities"},
		{"admin waiting", store.IdeaStateWaiting, adminSession(), "No activity yet to display"},
		{"admin ready", store.IdeaStateReady, adminSession(), "No activity tracking is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFakeStore()
			seedIdea(fs, "idea-1", tc.state)
			seedActivity(fs, "idea-1", "act-1", "Stale Row", store.ActivityStateWaiting)
			svc, _, _, _, _ := newTestService(fs)

			payload, err := svc.ListIdeaActivities(context.Background(), tc.session, "idea-1")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if rows := payload["activities"].([]map[string]any); len(rows) != 0 {
				t.Fatalf("expected no rows outside Incubation, got %d", len(rows))
			}
			message, _ := payload["message"].(string)
			if !strings.Contains(message, tc.wantSub) {
				t.Fatalf("message %q does not contain %q", message, tc.wantSub)
			}
		})
	}
}

func TestListActivitiesDeduplicatesByTask(t *testing.T) {
	fs := newFakeStore()
	seedIdea(fs, "idea-1", store.IdeaStateIncubation)
	first := seedActivity(fs, "idea-1", "act-1", "Marketing Research", store.ActivityStateWaiting)
	seedActivity(fs, "idea-1", "act-2", "Marketing Research", store.ActivityStateDone)
	seedActivity(fs, "idea-1", "act-3", "Financial Planning", store.ActivityStateWaiting)
	svc, _, _, _, _ := newTestService(fs)

	payload, err := svc.ListIdeaActivities(context.Background(), adminSession(), "idea-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	rows := payload["activities"].([]map[string]any)
	if len(rows) != 2 {
		t.Fatalf("expected 2 deduplicated rows, got %d", len(rows))
	}
	if rows[0]["id"] != first.ID {
		t.Fatalf("dedup must keep the first occurrence, got %v", rows[0]["id"])
	}
}

func TestListActivitiesForbiddenForOtherOwner(t *testing.T) {
	fs := newFakeStore()
	seedIdea(fs, "idea-1", store.IdeaStateIncubation)
	svc, _, _, _, _ := newTestService(fs)

	other := Session{UserID: "u-2", Email: "other@example.com", Role: "idea-owner"}
	if _, err := svc.ListIdeaActivities(context.Background(), other, "idea-1"); err == nil {
		t.Fatal("expected forbidden")
	}
}

func TestCommentVisibleOnlyInReview(t *testing.T) {
	fs := newFakeStore()
	seedIdea(fs, "idea-1", store.IdeaStateIncubation)
	seedActivity(fs, "idea-1", "act-1", "Marketing Research", store.ActivityStateReview)
	svc, _, _, _, _ := newTestService(fs)
	admin := adminSession()

	if _, err := svc.SetActivityComment(context.Background(), admin, "idea-1", "act-1", "Needs a bigger sample"); err != nil {
		t.Fatalf("set comment: %v", err)
	}

	payload, _ := svc.ListIdeaActivities(context.Background(), ownerSession(), "idea-1")
	row := payload["activities"].([]map[string]any)[0]
	if row["commentVisible"] != true {
		t.Fatal("comment must be visible while in Review")
	}
	if row["comment"] != "Needs a bigger sample" {
		t.Fatalf("comment = %v", row["comment"])
	}

	// Leaving Review hides the comment from the owner but keeps it stored.
	if _, err := svc.SetActivityState(context.Background(), admin, "idea-1", "act-1", store.ActivityStateDone); err != nil {
		t.Fatalf("set state: %v", err)
	}
	payload, _ = svc.ListIdeaActivities(context.Background(), ownerSession(), "idea-1")
	row = payload["activities"].([]map[string]any)[0]
	if row["commentVisible"] != false {
		t.Fatal("comment must not be visible outside Review")
	}
	if _, ok := row["comment"]; ok {
		t.Fatal("owner view must not carry the comment text outside Review")
	}

	// The admin still sees the stored comment.
	payload, _ = svc.ListIdeaActivities(context.Background(), admin, "idea-1")
	row = payload["activities"].([]map[string]any)[0]
	if row["comment"] != "Needs a bigger sample" {
		t.Fatal("comment set during Review must persist after leaving Review")
	}
}

func TestSetActivityStateValidation(t *testing.T) {
	fs := newFakeStore()
	seedIdea(fs, "idea-1", store.IdeaStateIncubation)
	seedActivity(fs, "idea-1", "act-1", "Marketing Research", store.ActivityStateWaiting)
	svc, _, _, _, _ := newTestService(fs)

	if _, err := svc.SetActivityState(context.Background(), adminSession(), "idea-1", "act-1", "Archived"); err == nil {
		t.Fatal("expected validation error for unknown state")
	}

	payload, err := svc.SetActivityState(context.Background(), adminSession(), "idea-1", "act-1", store.ActivityStateReview)
	if err != nil {
		t.Fatalf("set state: %v", err)
	}
	if payload["state"] != store.ActivityStateReview {
		t.Fatalf("state = %v", payload["state"])
	}
}

func TestUploadEvidence(t *testing.T) {
	fs := newFakeStore()
	seedIdea(fs, "idea-1", store.IdeaStateIncubation)
	seedActivity(fs, "idea-1", "act-1", "Marketing Research", store.ActivityStateWaiting)
	svc, _, _, _, files := newTestService(fs)

	payload, err := svc.UploadActivityEvidence(context.Background(), ownerSession(), "idea-1", "act-1",
		"research.pdf", strings.NewReader("content"), 7, "application/pdf")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	ref := payload["uploadedFile"].(*store.FileRef)
	if ref.Name != "research.pdf" || ref.URL == "" || ref.Key == "" {
		t.Fatalf("file ref incomplete: %+v", ref)
	}
	if len(files.uploads) != 1 {
		t.Fatalf("expected one blob upload, got %d", len(files.uploads))
	}

	stored, _ := fs.GetActivity(context.Background(), "idea-1", "act-1")
	if stored.UploadedFile == nil || stored.UploadedFile.Name != "research.pdf" {
		t.Fatal("upload reference not persisted")
	}
}

func TestUploadEvidenceBlockedWhenDone(t *testing.T) {
	fs := newFakeStore()
	seedIdea(fs, "idea-1", store.IdeaStateIncubation)
	seedActivity(fs, "idea-1", "act-1", "Marketing Research", store.ActivityStateDone)
	svc, _, _, _, _ := newTestService(fs)

	_, err := svc.UploadActivityEvidence(context.Background(), ownerSession(), "idea-1", "act-1",
		"late.pdf", strings.NewReader("x"), 1, "application/pdf")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "ACTIVITY_DONE" {
		t.Fatalf("expected ACTIVITY_DONE, got %v", err)
	}
}

func TestUploadEvidenceRequiresIncubation(t *testing.T) {
	fs := newFakeStore()
	seedIdea(fs, "idea-1", store.IdeaStateWaiting)
	seedActivity(fs, "idea-1", "act-1", "Marketing Research", store.ActivityStateWaiting)
	svc, _, _, _, _ := newTestService(fs)

	_, err := svc.UploadActivityEvidence(context.Background(), ownerSession(), "idea-1", "act-1",
		"early.pdf", strings.NewReader("x"), 1, "application/pdf")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_INCUBATION" {
		t.Fatalf("expected NOT_INCUBATION, got %v", err)
	}
}

func TestDeleteEvidenceBestEffortBlob(t *testing.T) {
	fs := newFakeStore()
	seedIdea(fs, "idea-1", store.IdeaStateIncubation)
	seedActivity(fs, "idea-1", "act-1", "Marketing Research", store.ActivityStateWaiting)
	fs.mutateActivity("idea-1", "act-1", func(a *store.Activity) {
		a.UploadedFile = &store.FileRef{Name: "research.pdf", URL: "u", Key: "k"}
	})
	svc, _, _, _, files := newTestService(fs)
	files.deleteErr = errors.New("bucket gone")

	// Blob failure is logged, not surfaced; the reference is still cleared.
	if _, err := svc.DeleteActivityEvidence(context.Background(), ownerSession(), "idea-1", "act-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	stored, _ := fs.GetActivity(context.Background(), "idea-1", "act-1")
	if stored.UploadedFile != nil {
		t.Fatal("reference must be cleared even when the blob delete fails")
	}
}
