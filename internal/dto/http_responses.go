package dto

import (
	"time"

	"github.com/wb-go/wbf/ginext"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	EventNotFound        = "EVENT_NOT_FOUND"
	StudentNotFound      = "STUDENT_NOT_FOUND"
	RegistrationNotFound = "REGISTRATION_NOT_FOUND"

	EventNotActive        = "EVENT_NOT_ACTIVE"
	EventAlreadyStarted   = "EVENT_ALREADY_STARTED"
	RegistrationDuplicate = "REGISTRATION_DUPLICATE"
	CapacityExceeded      = "CAPACITY_EXCEEDED"
	AlreadyCheckedIn      = "ALREADY_CHECKED_IN"
	CheckInBeforeStart    = "CHECKIN_BEFORE_START"
	RegistrationCancelled = "REGISTRATION_CANCELLED"
	AlreadyCancelled      = "ALREADY_CANCELLED"
	NotAttended           = "NOT_ATTENDED"
	FeedbackDuplicate     = "FEEDBACK_DUPLICATE"
	RatingOutOfRange      = "RATING_OUT_OF_RANGE"
	StorageConflict       = "STORAGE_CONFLICT"

	ReconcileBusy = "RECONCILIATION_RUNNING"
)

type CreateCollegeRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Location string `json:"location"`
}

type CreateStudentRequest struct {
	CollegeID  int64  `json:"college_id" validate:"required"`
	Name       string `json:"name" validate:"required,min=2,max=255"`
	Email      string `json:"email" validate:"required,email"`
	Department string `json:"department"`
	Year       string `json:"year"`
}

type CreateEventRequest struct {
	CollegeID   int64     `json:"college_id" validate:"required"`
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description"`
	TypeID      int64     `json:"type_id" validate:"required"`
	Venue       string    `json:"venue"`
	StartTime   time.Time `json:"start_time" validate:"required,future"`
	EndTime     time.Time `json:"end_time" validate:"required"`
	Capacity    int       `json:"capacity" validate:"positive"`
	CreatedBy   int64     `json:"created_by" validate:"required"`
	Semester    string    `json:"semester" validate:"required"`
}

type RegisterRequest struct {
	StudentID int64 `json:"student_id" validate:"required"`
}

type CheckInRequest struct {
	Attended    *bool      `json:"attended" validate:"required"`
	CheckInTime *time.Time `json:"check_in_time,omitempty"`
}

type SubmitFeedbackRequest struct {
	Rating   int    `json:"rating" validate:"required,gte=1,lte=5"`
	Comments string `json:"comments" validate:"max=2000"`
}

type EventResponse struct {
	ID          int64     `json:"id"`
	CollegeID   int64     `json:"college_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	TypeID      int64     `json:"type_id"`
	Venue       string    `json:"venue,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Capacity    int       `json:"capacity"`
	CreatedBy   int64     `json:"created_by"`
	Semester    string    `json:"semester"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type EventInfoResponse struct {
	EventResponse
	AvailableSeats int                    `json:"available_seats"`
	Registrations  []RegistrationResponse `json:"registrations,omitempty"`
}

type RegistrationResponse struct {
	ID               int64     `json:"id"`
	StudentID        int64     `json:"student_id"`
	EventID          int64     `json:"event_id"`
	RegistrationTime time.Time `json:"registration_time"`
	Status           string    `json:"status"`
}

type AttendanceResponse struct {
	ID             int64     `json:"id"`
	RegistrationID int64     `json:"registration_id"`
	Attended       bool      `json:"attended"`
	CheckInTime    time.Time `json:"check_in_time"`
}

type FeedbackResponse struct {
	ID             int64     `json:"id"`
	RegistrationID int64     `json:"registration_id"`
	Rating         int       `json:"rating"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// RegistrationNotification is published to RabbitMQ after a successful
// registration commit; the consumer worker turns it into an e-mail.
type RegistrationNotification struct {
	RegistrationID int64     `json:"registration_id"`
	EventID        int64     `json:"event_id"`
	StudentEmail   string    `json:"student_email"`
	EventTitle     string    `json:"event_title"`
	RegisteredAt   time.Time `json:"registered_at"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func BadResponseError(c *ginext.Context, code, desc string) {
	c.JSON(400, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func NotFoundError(c *ginext.Context, code, desc string) {
	c.JSON(404, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func ConflictError(c *ginext.Context, code, desc string) {
	c.JSON(409, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func InternalServerError(c *ginext.Context) {
	c.JSON(500, Response{
		Status: "error",
		Error: &Error{
			Code: ServiceUnavailable,
			Desc: InternalError,
		},
	})
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}
