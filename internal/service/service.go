package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"

	"campusevents/internal/dto"
	"campusevents/internal/invariant"
	"campusevents/internal/model"
	"campusevents/internal/rabbit"
	"campusevents/internal/reconcile"
	"campusevents/internal/repo"
	"campusevents/pkg/validator"
)

type Service interface {
	CreateCollege(ctx *ginext.Context)
	CreateStudent(ctx *ginext.Context)
	CreateEvent(ctx *ginext.Context)
	GetAllEvents(ctx *ginext.Context)
	GetInfo(ctx *ginext.Context)
	Register(ctx *ginext.Context)
	CancelRegistration(ctx *ginext.Context)
	CheckIn(ctx *ginext.Context)
	SubmitFeedback(ctx *ginext.Context)
	GetRegistration(ctx *ginext.Context)
	RunReconciliation(ctx *ginext.Context)
}

// txConflictRetry bounds how often a transient storage conflict is retried.
// Rule violations are final and never go through this strategy.
var txConflictRetry = retry.Strategy{Attempts: 3, Delay: 50 * time.Millisecond, Backoff: 2}

type service struct {
	store      repo.Store
	log        *zerolog.Logger
	rbt        *rabbit.Client
	rec        *reconcile.Reconciler
	earlyGrace time.Duration
}

func NewService(store repo.Store, logger *zerolog.Logger, rbt *rabbit.Client, rec *reconcile.Reconciler, earlyGrace time.Duration) Service {
	return &service{
		store:      store,
		log:        logger,
		rbt:        rbt,
		rec:        rec,
		earlyGrace: earlyGrace,
	}
}

func (s *service) CreateCollege(ctx *ginext.Context) {
	var req dto.CreateCollegeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	college := &model.College{Name: req.Name, Location: req.Location, Status: "active"}
	id, err := s.store.CreateCollege(ctx.Request.Context(), college)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create college")
		dto.InternalServerError(ctx)
		return
	}
	college.ID = id
	dto.SuccessCreatedResponse(ctx, college)
}

func (s *service) CreateStudent(ctx *ginext.Context) {
	var req dto.CreateStudentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	student := &model.Student{
		CollegeID:  req.CollegeID,
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
		Year:       req.Year,
		Status:     "active",
	}
	id, err := s.store.CreateStudent(ctx.Request.Context(), student)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create student")
		dto.InternalServerError(ctx)
		return
	}
	student.ID = id
	dto.SuccessCreatedResponse(ctx, student)
}

func (s *service) CreateEvent(ctx *ginext.Context) {
	var req dto.CreateEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to parse create event request")
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	event := &model.Event{
		CollegeID:   req.CollegeID,
		Title:       req.Title,
		Description: req.Description,
		TypeID:      req.TypeID,
		Venue:       req.Venue,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Capacity:    req.Capacity,
		CreatedBy:   req.CreatedBy,
		Semester:    req.Semester,
		Status:      model.EventStatusActive,
	}

	id, err := s.store.CreateEvent(ctx.Request.Context(), event)
	if err != nil {
		if invariant.IsRuleViolation(err) {
			s.respondRuleViolation(ctx, err)
			return
		}
		s.log.Error().Err(err).Msg("failed to create event in DB")
		dto.InternalServerError(ctx)
		return
	}

	event.ID = id
	s.log.Info().Int64("event_id", id).Msg("event created successfully")
	dto.SuccessCreatedResponse(ctx, toEventResponse(event))
}

func (s *service) GetAllEvents(ctx *ginext.Context) {
	events, err := s.store.GetAllEvents(ctx.Request.Context())
	if err != nil {
		dto.InternalServerError(ctx)
		return
	}

	resp := make([]dto.EventInfoResponse, 0, len(events))
	for _, e := range events {
		count, err := s.store.CountActiveRegistrations(ctx.Request.Context(), e.ID)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to count registrations for event")
			continue
		}
		resp = append(resp, dto.EventInfoResponse{
			EventResponse:  toEventResponse(&e),
			AvailableSeats: e.Capacity - count,
		})
	}
	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetInfo(ctx *ginext.Context) {
	eventID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid event ID")
		return
	}

	event, err := s.store.GetEventByID(ctx.Request.Context(), eventID)
	if err != nil {
		dto.NotFoundError(ctx, dto.EventNotFound, "Event not found")
		return
	}

	count, err := s.store.CountActiveRegistrations(ctx.Request.Context(), eventID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to count registrations")
		dto.InternalServerError(ctx)
		return
	}

	resp := dto.EventInfoResponse{
		EventResponse:  toEventResponse(event),
		AvailableSeats: event.Capacity - count,
	}

	if ctx.Query("admin") == "true" {
		registrations, err := s.store.GetRegistrationsByEventID(ctx.Request.Context(), eventID)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to get registrations for admin view")
			dto.InternalServerError(ctx)
			return
		}
		for _, r := range registrations {
			resp.Registrations = append(resp.Registrations, toRegistrationResponse(&r))
		}
	}

	dto.SuccessResponse(ctx, resp)
}

// Register takes a seat for the student. Transient storage conflicts are
// retried a bounded number of times; rule violations are returned as-is.
func (s *service) Register(ctx *ginext.Context) {
	eventID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid event ID")
		return
	}

	var req dto.RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	now := time.Now()
	var regID int64
	var opErr error
	err = retry.Do(func() error {
		id, err := s.store.RegisterTx(ctx.Request.Context(), req.StudentID, eventID, now)
		if errors.Is(err, repo.ErrTxConflict) {
			return err
		}
		regID, opErr = id, err
		return nil
	}, txConflictRetry)
	if err != nil {
		opErr = err
	}
	if opErr != nil {
		s.respondLifecycleError(ctx, opErr)
		return
	}

	s.log.Info().Int64("registration_id", regID).Int64("event_id", eventID).Msg("registration created successfully")
	s.publishRegistrationNotification(ctx, regID, eventID, req.StudentID, now)

	dto.SuccessCreatedResponse(ctx, dto.RegistrationResponse{
		ID:               regID,
		StudentID:        req.StudentID,
		EventID:          eventID,
		RegistrationTime: now,
		Status:           model.RegistrationStatusRegistered,
	})
}

func (s *service) publishRegistrationNotification(ctx *ginext.Context, regID, eventID, studentID int64, registeredAt time.Time) {
	if s.rbt == nil {
		return
	}

	event, err := s.store.GetEventByID(ctx.Request.Context(), eventID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load event for notification")
		return
	}
	student, err := s.store.GetStudentByID(ctx.Request.Context(), studentID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load student for notification")
		return
	}

	msg := dto.RegistrationNotification{
		RegistrationID: regID,
		EventID:        eventID,
		StudentEmail:   student.Email,
		EventTitle:     event.Title,
		RegisteredAt:   registeredAt,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal registration notification")
		return
	}
	if err := s.rbt.Publish(payload); err != nil {
		s.log.Error().Err(err).Msg("failed to publish registration notification")
	}
}

func (s *service) CancelRegistration(ctx *ginext.Context) {
	regID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid registration ID")
		return
	}

	if err := s.store.CancelRegistrationTx(ctx.Request.Context(), regID); err != nil {
		s.respondLifecycleError(ctx, err)
		return
	}

	s.log.Info().Int64("registration_id", regID).Msg("registration cancelled")
	dto.SuccessResponse(ctx, dto.RegistrationResponse{
		ID:     regID,
		Status: model.RegistrationStatusCancelled,
	})
}

func (s *service) CheckIn(ctx *ginext.Context) {
	regID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid registration ID")
		return
	}

	var req dto.CheckInRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	checkInTime := time.Now()
	if req.CheckInTime != nil {
		checkInTime = *req.CheckInTime
	}

	attID, err := s.store.CheckInTx(ctx.Request.Context(), regID, *req.Attended, checkInTime, s.earlyGrace)
	if err != nil {
		s.respondLifecycleError(ctx, err)
		return
	}

	s.log.Info().Int64("attendance_id", attID).Int64("registration_id", regID).Msg("attendance recorded")
	dto.SuccessCreatedResponse(ctx, dto.AttendanceResponse{
		ID:             attID,
		RegistrationID: regID,
		Attended:       *req.Attended,
		CheckInTime:    checkInTime,
	})
}

func (s *service) SubmitFeedback(ctx *ginext.Context) {
	regID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid registration ID")
		return
	}

	var req dto.SubmitFeedbackRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	now := time.Now()
	fbID, err := s.store.SubmitFeedbackTx(ctx.Request.Context(), regID, req.Rating, req.Comments, now)
	if err != nil {
		s.respondLifecycleError(ctx, err)
		return
	}

	s.log.Info().Int64("feedback_id", fbID).Int64("registration_id", regID).Msg("feedback submitted")
	dto.SuccessCreatedResponse(ctx, dto.FeedbackResponse{
		ID:             fbID,
		RegistrationID: regID,
		Rating:         req.Rating,
		SubmittedAt:    now,
	})
}

func (s *service) GetRegistration(ctx *ginext.Context) {
	regID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid registration ID")
		return
	}

	reg, err := s.store.GetRegistrationByID(ctx.Request.Context(), regID)
	if err != nil {
		dto.NotFoundError(ctx, dto.RegistrationNotFound, "Registration not found")
		return
	}
	dto.SuccessResponse(ctx, toRegistrationResponse(reg))
}

func (s *service) RunReconciliation(ctx *ginext.Context) {
	report, err := s.rec.Run(ctx.Request.Context())
	if err != nil {
		if errors.Is(err, reconcile.ErrAlreadyRunning) {
			dto.ConflictError(ctx, dto.ReconcileBusy, "A reconciliation run is already in progress")
			return
		}
		s.log.Error().Err(err).Msg("reconciliation run failed")
		dto.InternalServerError(ctx)
		return
	}
	dto.SuccessResponse(ctx, report)
}

// respondLifecycleError maps the typed lifecycle errors onto HTTP once, here,
// instead of per endpoint.
func (s *service) respondLifecycleError(ctx *ginext.Context, err error) {
	switch {
	case errors.Is(err, repo.ErrStudentNotFound):
		dto.NotFoundError(ctx, dto.StudentNotFound, "Student not found")
	case errors.Is(err, repo.ErrEventNotFound):
		dto.NotFoundError(ctx, dto.EventNotFound, "Event not found")
	case errors.Is(err, repo.ErrRegistrationNotFound):
		dto.NotFoundError(ctx, dto.RegistrationNotFound, "Registration not found")
	case errors.Is(err, repo.ErrTxConflict):
		dto.ConflictError(ctx, dto.StorageConflict, "Concurrent update conflict, please retry")
	case invariant.IsRuleViolation(err):
		s.respondRuleViolation(ctx, err)
	default:
		s.log.Error().Err(err).Msg("lifecycle operation failed")
		dto.InternalServerError(ctx)
	}
}

func (s *service) respondRuleViolation(ctx *ginext.Context, err error) {
	code := dto.FieldIncorrect
	switch {
	case errors.Is(err, invariant.ErrEventNotActive):
		code = dto.EventNotActive
	case errors.Is(err, invariant.ErrEventStarted):
		code = dto.EventAlreadyStarted
	case errors.Is(err, invariant.ErrDuplicateRegistration):
		code = dto.RegistrationDuplicate
	case errors.Is(err, invariant.ErrCapacityExceeded):
		code = dto.CapacityExceeded
	case errors.Is(err, invariant.ErrAlreadyCheckedIn):
		code = dto.AlreadyCheckedIn
	case errors.Is(err, invariant.ErrCheckInBeforeStart):
		code = dto.CheckInBeforeStart
	case errors.Is(err, invariant.ErrRegistrationCancelled):
		code = dto.RegistrationCancelled
	case errors.Is(err, invariant.ErrAlreadyCancelled):
		code = dto.AlreadyCancelled
	case errors.Is(err, invariant.ErrNotAttended):
		code = dto.NotAttended
	case errors.Is(err, invariant.ErrDuplicateFeedback):
		code = dto.FeedbackDuplicate
	case errors.Is(err, invariant.ErrRatingOutOfRange):
		code = dto.RatingOutOfRange
	}
	dto.BadResponseError(ctx, code, err.Error())
}

func toEventResponse(e *model.Event) dto.EventResponse {
	return dto.EventResponse{
		ID:          e.ID,
		CollegeID:   e.CollegeID,
		Title:       e.Title,
		Description: e.Description,
		TypeID:      e.TypeID,
		Venue:       e.Venue,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		Capacity:    e.Capacity,
		CreatedBy:   e.CreatedBy,
		Semester:    e.Semester,
		Status:      e.Status,
		CreatedAt:   e.CreatedAt,
	}
}

func toRegistrationResponse(r *model.Registration) dto.RegistrationResponse {
	return dto.RegistrationResponse{
		ID:               r.ID,
		StudentID:        r.StudentID,
		EventID:          r.EventID,
		RegistrationTime: r.RegistrationTime,
		Status:           r.Status,
	}
}
