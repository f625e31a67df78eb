package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"ballora/api/internal/events"
	"ballora/api/internal/rbac"
	"ballora/api/internal/store"
	"ballora/api/internal/util"
)

// Messages shown in place of the activity table while the idea is outside
// the Incubation stage. Worded per viewer role.
var activityStateMessages = map[rbac.Role]map[string]string{
	rbac.RoleIdeaOwner: {
		store.IdeaStateWaiting: "Your idea is currently in the Waiting phase. You will see the activities once your idea moves to the Incubation phase.",
		store.IdeaStateReady:   "Congratulations! Your idea is now in the Ready To Invest phase. You don't need to track activities.",
	},
	rbac.RoleAdmin: {
		store.IdeaStateWaiting: "This idea is currently in the Waiting phase. No activity yet to display until it moves to the Incubation phase.",
		store.IdeaStateReady:   "This idea is in the Ready To Invest phase. No activity tracking is required.",
	},
}

// ListIdeaActivities returns the checklist for the idea's owner or an
// admin. Outside Incubation the response carries an explanatory message
// instead of rows.
func (s *Service) ListIdeaActivities(ctx context.Context, sess Session, ideaID string) (map[string]any, error) {
	idea, role, err := s.activityIdea(ctx, sess, ideaID)
	if err != nil {
		return nil, err
	}

	if idea.State != store.IdeaStateIncubation {
		return map[string]any{
			"state":      idea.State,
			"activities": []map[string]any{},
			"message":    activityStateMessages[role][idea.State],
		}, nil
	}

	rows, err := s.store.ListActivities(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	// Duplicate task rows can appear after an event redelivery; keep the
	// first occurrence of each task name.
	seen := make(map[string]bool, len(rows))
	items := make([]map[string]any, 0, len(rows))
	for _, activity := range rows {
		if seen[activity.TaskName] {
			continue
		}
		seen[activity.TaskName] = true
		items = append(items, activityPayload(activity, role))
	}

	return map[string]any{
		"state":      idea.State,
		"activities": items,
	}, nil
}

// UploadActivityEvidence stores the owner's deliverable for one activity.
// Uploads are only open while the idea is in Incubation and the activity
// is not yet Done.
func (s *Service) UploadActivityEvidence(ctx context.Context, sess Session, ideaID, activityID, filename string, r io.Reader, size int64, contentType string) (map[string]any, error) {
	idea, _, err := s.activityIdea(ctx, sess, ideaID)
	if err != nil {
		return nil, err
	}
	if idea.OwnerEmail != sess.Email {
		return nil, errForbidden()
	}
	if idea.State != store.IdeaStateIncubation {
		return nil, errConflict("NOT_INCUBATION", "Files can only be uploaded while the idea is in the Incubation phase")
	}

	activity, err := s.store.GetActivity(ctx, ideaID, activityID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("Activity not found")
		}
		return nil, err
	}
	if activity.State == store.ActivityStateDone {
		return nil, errConflict("ACTIVITY_DONE", "This activity is already marked Done; uploads are closed")
	}

	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage not configured", nil)
	}
	key := fmt.Sprintf("activities/%s/%s/%s-%s", ideaID, activityID, util.NewID(""), filename)
	url, err := s.files.Upload(ctx, key, r, size, contentType)
	if err != nil {
		return nil, err
	}

	ref := &store.FileRef{Name: filename, URL: url, Key: key, Size: strconv.FormatInt(size, 10)}
	if err := s.store.SetActivityUpload(ctx, ideaID, activityID, ref); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{Type: events.TypeActivityUpdated, Ref: activityID, Actor: sess.Email, Detail: "file-uploaded"})
	return map[string]any{"uploadedFile": ref}, nil
}

// DeleteActivityEvidence removes the owner's deliverable. The blob delete
// is best effort; the database reference is cleared regardless.
func (s *Service) DeleteActivityEvidence(ctx context.Context, sess Session, ideaID, activityID string) (map[string]any, error) {
	idea, _, err := s.activityIdea(ctx, sess, ideaID)
	if err != nil {
		return nil, err
	}
	if idea.OwnerEmail != sess.Email {
		return nil, errForbidden()
	}

	activity, err := s.store.GetActivity(ctx, ideaID, activityID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("Activity not found")
		}
		return nil, err
	}
	if activity.UploadedFile == nil {
		return nil, errNotFound("No file uploaded for this activity")
	}
	if activity.State == store.ActivityStateDone {
		return nil, errConflict("ACTIVITY_DONE", "This activity is already marked Done; uploads are closed")
	}

	if s.files != nil && activity.UploadedFile.Key != "" {
		if err := s.files.Delete(ctx, activity.UploadedFile.Key); err != nil {
			log.Printf("blob: delete %s: %v", activity.UploadedFile.Key, err)
		}
	}
	if err := s.store.SetActivityUpload(ctx, ideaID, activityID, nil); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{Type: events.TypeActivityUpdated, Ref: activityID, Actor: sess.Email, Detail: "file-deleted"})
	return map[string]any{"uploadedFile": nil}, nil
}

// SetActivityState lets an admin set any activity state directly.
func (s *Service) SetActivityState(ctx context.Context, sess Session, ideaID, activityID, state string) (map[string]any, error) {
	switch state {
	case store.ActivityStateWaiting, store.ActivityStateReview, store.ActivityStateDone:
	default:
		return nil, errValidation("State must be Waiting, Review, or Done", nil)
	}

	if err := s.store.UpdateActivityState(ctx, ideaID, activityID, state); err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("Activity not found")
		}
		return nil, err
	}

	s.publishEvent(ctx, events.Event{Type: events.TypeActivityUpdated, Ref: activityID, Actor: sess.Email, Detail: state})
	activity, err := s.store.GetActivity(ctx, ideaID, activityID)
	if err != nil {
		return nil, err
	}
	return activityPayload(activity, rbac.RoleAdmin), nil
}

// SetActivityComment persists the admin's review note. The comment is
// stored regardless of the activity state; visibility to the owner is a
// presentation concern handled in activityPayload.
func (s *Service) SetActivityComment(ctx context.Context, sess Session, ideaID, activityID, comment string) (map[string]any, error) {
	if err := s.store.UpdateActivityComment(ctx, ideaID, activityID, comment); err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("Activity not found")
		}
		return nil, err
	}

	s.publishEvent(ctx, events.Event{Type: events.TypeActivityUpdated, Ref: activityID, Actor: sess.Email, Detail: "comment"})
	activity, err := s.store.GetActivity(ctx, ideaID, activityID)
	if err != nil {
		return nil, err
	}
	return activityPayload(activity, rbac.RoleAdmin), nil
}

// activityIdea loads the idea and authorizes the caller: admins and the
// idea's owner may view its activity workflow.
func (s *Service) activityIdea(ctx context.Context, sess Session, ideaID string) (store.Idea, rbac.Role, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		if store.ErrNotFound(err) {
			return store.Idea{}, "", errNotFound("Idea not found")
		}
		return store.Idea{}, "", err
	}

	role := rbac.Normalize(sess.Role)
	switch role {
	case rbac.RoleAdmin:
	case rbac.RoleIdeaOwner:
		if idea.OwnerEmail != sess.Email {
			return store.Idea{}, "", errForbidden()
		}
	default:
		return store.Idea{}, "", errForbidden()
	}
	return idea, role, nil
}

// activityPayload renders one checklist row. The review comment is marked
// visible only while the activity sits in Review; owners never receive
// the comment text outside that window.
func activityPayload(activity store.Activity, viewer rbac.Role) map[string]any {
	commentVisible := activity.State == store.ActivityStateReview
	payload := map[string]any{
		"id":             activity.ID,
		"taskName":       activity.TaskName,
		"durationWeeks":  activity.DurationWeeks,
		"templateFile":   activity.TemplateFile,
		"state":          activity.State,
		"commentVisible": commentVisible,
	}
	if activity.UploadedFile != nil {
		payload["uploadedFile"] = activity.UploadedFile
	}
	if viewer == rbac.RoleAdmin || commentVisible {
		payload["comment"] = activity.Comment
	}
	return payload
}
