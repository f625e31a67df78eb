package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"ballora/api/internal/ai"
	"ballora/api/internal/events"
	"ballora/api/internal/notify"
	"ballora/api/internal/rbac"
	"ballora/api/internal/store"
	"ballora/api/internal/util"
)

var readinessLevels = map[string]struct{}{
	"Idea":             {},
	"Prototype":        {},
	"MVP":              {},
	"growth/Expansion": {},
}

var ideaFieldTags = map[string]struct{}{
	"AI & Big Data":                 {},
	"Health & Biotechnology":        {},
	"Education":                     {},
	"Environment & Sustainability":  {},
	"Tourism & Entertainment":       {},
	"Fintech & Business Services":   {},
	"Retail & E-commerce":           {},
	"Creative Industries":           {},
	"Logistics & Supply Chain":      {},
	"Smart Cities & Infrastructure": {},
	"Other":                         {},
}

var numericOnly = regexp.MustCompile(`^[0-9\s]+$`)

const (
	subjectIncubation = "Congratulations! Your idea has entered the Incubation State 🎉🚀"
	subjectReady      = "Congratulations! Your idea is now Ready To Invest 🎉🚀"
)

const messageIncubation = `Dear Entrepreneur,
We are pleased to inform you that, following the nomination process and thorough review, your idea has been officially incubated at the Entrepreneurship Center.

During the incubation phase, you will be assigned activities and deliverables designed to develop your idea into a complete project. This journey will take place through a one-year program, where you will submit required files and preparations to ensure your idea is fully ready to be presented to investors.

⚠️ Please note: if no activities are completed (minimum of three) during the incubation stage, your idea will be removed from the program and will not be accepted again.

We are proud to welcome you to our community and look forward to supporting you throughout this entrepreneurial journey until your idea reaches success.

Best regards,
Innovation and Entrepreneurship Center Team – King Abdulaziz University`

const messageReady = `Dear Entrepreneur,
We are pleased to inform you that your idea has been updated to Ready To Invest.

This means your idea will now be showcased to potential investors actively seeking promising opportunities. Interested investors will be able to view your idea, request more details, and contact you directly through the platform.

Reaching this stage reflects the potential and maturity of your idea, and we are confident it will attract valuable interest. Our team will continue to support you to ensure your project is presented most professionally and compellingly 🚀.

We look forward to seeing your idea move forward and achieve real impact in the market🌟.

Best regards,
Innovation and Entrepreneurship Center Team – King Abdulaziz University`

const finalStageMessage = "You reached the final stage. You cannot update the stage."

// stateTransitions lists the target stages offered from each stage.
var stateTransitions = map[string][]string{
	store.IdeaStateWaiting:    {store.IdeaStateIncubation, store.IdeaStateReady},
	store.IdeaStateIncubation: {store.IdeaStateReady},
	store.IdeaStateReady:      {},
}

// incubationChecklist is the fixed set of activities provisioned when an
// idea enters Incubation.
var incubationChecklist = []store.Activity{
	{TaskName: "Business Model Development", DurationWeeks: 4, TemplateFile: store.FileRef{Name: "Business_Model_Template.pdf", URL: "/activity_templates/Business_Model_Template.pdf"}},
	{TaskName: "Marketing Research", DurationWeeks: 4, TemplateFile: store.FileRef{Name: "Marketing_Research_Template.pdf", URL: "/activity_templates/Marketing_Research_Template.docx"}},
	{TaskName: "Financial Planning", DurationWeeks: 4, TemplateFile: store.FileRef{Name: "Financial_Plan_Template.pdf", URL: "/activity_templates/financial_plan_template.docx"}},
	{TaskName: "Product Development", DurationWeeks: 8, TemplateFile: store.FileRef{Name: "Product_Development_Template.pdf", URL: "/activity_templates/product-development.pdf"}},
	{TaskName: "Prototype Testing", DurationWeeks: 8, TemplateFile: store.FileRef{Name: "Prototype_Test_Template.pdf", URL: "/activity_templates/prototype-test.docx"}},
	{TaskName: "Final Presentation", DurationWeeks: 4, TemplateFile: store.FileRef{Name: "Final_Presentation_Template.pdf", URL: "/activity_templates/final_presentation.pdf"}},
}

type IdeaInput struct {
	IdeaName       string   `json:"ideaName"`
	Problem        string   `json:"problem"`
	Solution       string   `json:"solution"`
	Advantages     string   `json:"advantages"`
	Description    string   `json:"description"`
	ReadinessLevel string   `json:"readinessLevel"`
	Fields         []string `json:"fields"`
	TeamMembers    []string `json:"teamMembers"`
	LogoText       string   `json:"logoText"`
	LogoColor      string   `json:"logoColor"`
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func validateIdeaInput(input IdeaInput) map[string]string {
	errs := map[string]string{}

	name := strings.TrimSpace(input.IdeaName)
	switch {
	case name == "":
		errs["ideaName"] = "Idea name is required."
	case numericOnly.MatchString(name):
		errs["ideaName"] = "Idea name cannot contain only numbers."
	case wordCount(name) > 10:
		errs["ideaName"] = "Idea name must not exceed 10 words."
	}

	longFields := []struct {
		key, label, value string
	}{
		{"problem", "Problem", input.Problem},
		{"solution", "Solution", input.Solution},
		{"advantages", "Competitive advantage", input.Advantages},
	}
	for _, f := range longFields {
		value := strings.TrimSpace(f.value)
		switch {
		case value == "":
			errs[f.key] = f.label + " is required."
		case numericOnly.MatchString(value):
			errs[f.key] = f.label + " cannot contain only numbers."
		case wordCount(value) > 150:
			errs[f.key] = f.label + " must not exceed 150 words."
		}
	}

	if _, ok := readinessLevels[input.ReadinessLevel]; !ok {
		errs["readinessLevel"] = "Readiness level is required."
	}

	switch {
	case len(input.Fields) == 0:
		errs["fields"] = "Please select at least one field."
	case containsField(input.Fields, "Other") && len(input.Fields) > 1:
		errs["fields"] = `"Other" cannot be combined with other fields.`
	case len(input.Fields) > 2:
		errs["fields"] = "You can select a maximum of 2 fields only."
	default:
		for _, field := range input.Fields {
			if _, ok := ideaFieldTags[field]; !ok {
				errs["fields"] = fmt.Sprintf("Unknown field %q.", field)
				break
			}
		}
	}

	return errs
}

func containsField(fields []string, want string) bool {
	for _, f := range fields {
		if f == want {
			return true
		}
	}
	return false
}

// SubmitIdea validates the submission, runs it through the screening
// service, and persists it only on an accepted verdict.
func (s *Service) SubmitIdea(ctx context.Context, sess Session, input IdeaInput) (map[string]any, error) {
	// Local validation first; nothing leaves the process on failure.
	if errs := validateIdeaInput(input); len(errs) > 0 {
		return nil, errValidation("Idea validation failed", errs)
	}

	if s.screener == nil {
		return nil, domainError(http.StatusServiceUnavailable, "AI_UNAVAILABLE", "Idea screening service not configured", nil)
	}
	eval, err := s.screener.Evaluate(ctx, ai.Submission{
		IdeaName:       strings.TrimSpace(input.IdeaName),
		Problem:        strings.TrimSpace(input.Problem),
		Solution:       strings.TrimSpace(input.Solution),
		Advantages:     strings.TrimSpace(input.Advantages),
		ReadinessLevel: input.ReadinessLevel,
		Fields:         input.Fields,
	})
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "AI_UNAVAILABLE", "Idea screening service unavailable", nil)
	}

	switch eval.Status {
	case ai.StatusInvalid:
		return nil, errValidation("Idea screening rejected the submission", eval.Errors)
	case ai.StatusRejected:
		return map[string]any{
			"status":          "rejected",
			"similarityScore": eval.SimilarityScore,
			"nearestMatch":    eval.NearestMatch,
			"improvementTips": eval.ImprovementTips,
		}, nil
	}

	team := make([]string, 0, len(input.TeamMembers)+1)
	for _, member := range input.TeamMembers {
		member = strings.ToLower(strings.TrimSpace(member))
		if member != "" {
			team = append(team, member)
		}
	}
	if len(team) == 0 {
		team = []string{sess.Email}
	}

	idea := store.Idea{
		ID:             util.NewID("idea"),
		OwnerEmail:     sess.Email,
		IdeaName:       strings.TrimSpace(input.IdeaName),
		Problem:        strings.TrimSpace(input.Problem),
		Solution:       strings.TrimSpace(input.Solution),
		Advantage:      strings.TrimSpace(input.Advantages),
		Description:    strings.TrimSpace(input.Description),
		ReadinessLevel: input.ReadinessLevel,
		Fields:         input.Fields,
		State:          store.IdeaStateWaiting,
		TeamMembers:    team,
		BusinessModel:  eval.BusinessModel,
		Summary:        eval.Summary,
		LogoText:       strings.TrimSpace(input.LogoText),
		LogoColor:      strings.TrimSpace(input.LogoColor),
	}
	if err := s.store.InsertIdea(ctx, idea); err != nil {
		return nil, err
	}
	s.indexIdea(idea)

	return map[string]any{
		"status": "accepted",
		"idea":   s.ideaPayload(idea, true),
	}, nil
}

// ListIdeas returns the list appropriate for the caller's role: owners see
// their own ideas, admins see everything, investors see the Ready To
// Invest showcase.
func (s *Service) ListIdeas(ctx context.Context, sess Session) (map[string]any, error) {
	var (
		ideas []store.Idea
		err   error
	)
	switch rbac.Normalize(sess.Role) {
	case rbac.RoleAdmin:
		ideas, err = s.store.ListIdeas(ctx)
	case rbac.RoleIdeaOwner:
		ideas, err = s.store.ListIdeasByOwner(ctx, sess.Email)
	case rbac.RoleInvestor:
		ideas, err = s.store.ListIdeasByState(ctx, store.IdeaStateReady)
	default:
		return nil, errForbidden()
	}
	if err != nil {
		return nil, err
	}

	full := rbac.Normalize(sess.Role) != rbac.RoleInvestor
	items := make([]map[string]any, 0, len(ideas))
	for _, idea := range ideas {
		items = append(items, s.ideaPayload(idea, full))
	}
	return map[string]any{"ideas": items}, nil
}

// GetIdeaDetail gates an idea read by role. Investors only see Ready To
// Invest ideas, and contact details only after agreeing to the NDA.
func (s *Service) GetIdeaDetail(ctx context.Context, sess Session, ideaID string) (map[string]any, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("Idea not found")
		}
		return nil, err
	}

	switch rbac.Normalize(sess.Role) {
	case rbac.RoleAdmin:
		return s.ideaPayload(idea, true), nil
	case rbac.RoleIdeaOwner:
		if idea.OwnerEmail != sess.Email {
			return nil, errForbidden()
		}
		return s.ideaPayload(idea, true), nil
	case rbac.RoleInvestor:
		if idea.State != store.IdeaStateReady {
			return nil, errNotFound("Idea not found")
		}
		agreed, err := s.store.HasNDAAgreement(ctx, sess.UserID, idea.ID)
		if err != nil {
			return nil, err
		}
		payload := s.ideaPayload(idea, agreed)
		payload["ndaAgreed"] = agreed
		return payload, nil
	}
	return nil, errForbidden()
}

// AgreeNDA records the investor's NDA agreement for one idea.
func (s *Service) AgreeNDA(ctx context.Context, sess Session, ideaID string) (map[string]any, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("Idea not found")
		}
		return nil, err
	}
	if idea.State != store.IdeaStateReady {
		return nil, errConflict("NOT_READY", "NDA is only available for Ready To Invest ideas")
	}
	if err := s.store.UpsertNDAAgreement(ctx, sess.UserID, idea.ID); err != nil {
		return nil, err
	}
	return map[string]any{"ideaId": idea.ID, "ndaAgreed": true}, nil
}

// AvailableTransitions reports the stages an admin may move the idea to.
// The terminal stage carries the final-stage message instead.
func (s *Service) AvailableTransitions(ctx context.Context, ideaID string) (map[string]any, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("Idea not found")
		}
		return nil, err
	}

	available := stateTransitions[idea.State]
	payload := map[string]any{
		"current":   idea.State,
		"available": available,
	}
	if len(available) == 0 {
		payload["message"] = finalStageMessage
	}
	return payload, nil
}

// TransitionIdea moves an idea to the target stage. The congratulation
// email to the team leader is sent and awaited first; only then are the
// state change and, on Incubation entry, the activity checklist persisted,
// together in one transaction.
func (s *Service) TransitionIdea(ctx context.Context, sess Session, ideaID, target string) (map[string]any, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("Idea not found")
		}
		return nil, err
	}

	if !containsField(stateTransitions[idea.State], target) {
		if len(stateTransitions[idea.State]) == 0 {
			return nil, errConflict("FINAL_STAGE", finalStageMessage)
		}
		return nil, errConflict("INVALID_TRANSITION",
			fmt.Sprintf("Cannot move an idea from %s to %s", idea.State, target))
	}

	leader := idea.TeamLeader()
	if leader == "" {
		return nil, errValidation("Team leader email is not set for this idea", nil)
	}

	if s.notifier == nil {
		return nil, domainError(http.StatusServiceUnavailable, "NOTIFIER_UNAVAILABLE",
			gatewayStatusMessages[notify.StatusDisconnected], nil)
	}
	if status := s.notifier.Health(ctx); status != notify.StatusConnected {
		return nil, domainError(http.StatusServiceUnavailable, "NOTIFIER_UNAVAILABLE",
			gatewayStatusMessages[status], nil)
	}

	subject, message := transitionEmail(target)
	if err := s.notifier.Send(ctx, leader, subject, message); err != nil {
		return nil, domainError(http.StatusBadGateway, "EMAIL_FAILED",
			"Could not send the notification email; the idea state was not changed", nil)
	}

	var activities []store.Activity
	if target == store.IdeaStateIncubation {
		activities = make([]store.Activity, 0, len(incubationChecklist))
		for _, tpl := range incubationChecklist {
			activity := tpl
			activity.ID = util.NewID("act")
			activity.IdeaID = idea.ID
			activity.State = store.ActivityStateWaiting
			activities = append(activities, activity)
		}
	}

	if err := s.store.TransitionIdea(ctx, idea.ID, target, activities); err != nil {
		return nil, err
	}

	idea.State = target
	s.indexIdea(idea)
	s.publishEvent(ctx, events.Event{
		Type:   events.TypeIdeaState,
		Ref:    idea.ID,
		Actor:  sess.Email,
		Detail: target,
	})

	return map[string]any{
		"id":          idea.ID,
		"state":       target,
		"emailSentTo": leader,
		"activities":  len(activities),
	}, nil
}

func transitionEmail(target string) (subject, message string) {
	if target == store.IdeaStateIncubation {
		return subjectIncubation, messageIncubation
	}
	return subjectReady, messageReady
}

// UploadIdeaAttachment stores a pitch document on the idea itself.
func (s *Service) UploadIdeaAttachment(ctx context.Context, sess Session, ideaID, filename string, r io.Reader, size int64, contentType string) (map[string]any, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("Idea not found")
		}
		return nil, err
	}
	if idea.OwnerEmail != sess.Email {
		return nil, errForbidden()
	}
	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage not configured", nil)
	}

	key := fmt.Sprintf("ideas/%s/%s-%s", idea.ID, util.NewID(""), filename)
	url, err := s.files.Upload(ctx, key, r, size, contentType)
	if err != nil {
		return nil, err
	}
	ref := &store.FileRef{Name: filename, URL: url, Key: key, Size: strconv.FormatInt(size, 10)}
	if err := s.store.SetIdeaAttachment(ctx, idea.ID, ref); err != nil {
		return nil, err
	}
	return map[string]any{"attachment": ref}, nil
}

// ideaPayload renders an idea. With full=false (investor before NDA) the
// contact fields are withheld.
func (s *Service) ideaPayload(idea store.Idea, full bool) map[string]any {
	payload := map[string]any{
		"id":             idea.ID,
		"ideaName":       idea.IdeaName,
		"problem":        idea.Problem,
		"solution":       idea.Solution,
		"advantages":     idea.Advantage,
		"description":    idea.Description,
		"readinessLevel": idea.ReadinessLevel,
		"fields":         idea.Fields,
		"state":          idea.State,
		"summary":        idea.Summary,
		"bmc":            idea.BusinessModel,
		"logoText":       idea.LogoText,
		"logoColor":      idea.LogoColor,
		"createdAt":      idea.CreatedAt,
	}
	if full {
		payload["ownerEmail"] = idea.OwnerEmail
		payload["teamMembers"] = idea.TeamMembers
		if idea.Attachment != nil {
			payload["attachment"] = idea.Attachment
		}
	}
	return payload
}
