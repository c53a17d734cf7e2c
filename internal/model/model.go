package model

import "time"

const (
	EventStatusActive    = "active"
	EventStatusCompleted = "completed"
	EventStatusCancelled = "cancelled"

	RegistrationStatusRegistered = "registered"
	RegistrationStatusCancelled  = "cancelled"
)

type College struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Location string `db:"location,omitempty" json:"location,omitempty"`
	Status   string `db:"status" json:"status"`
}

type Admin struct {
	ID        int64  `db:"id" json:"id"`
	CollegeID int64  `db:"college_id" json:"college_id"`
	Name      string `db:"name" json:"name"`
	Email     string `db:"email" json:"email"`
	Role      string `db:"role,omitempty" json:"role,omitempty"`
	Status    string `db:"status" json:"status"`
}

type Student struct {
	ID         int64  `db:"id" json:"id"`
	CollegeID  int64  `db:"college_id" json:"college_id"`
	Name       string `db:"name" json:"name"`
	Email      string `db:"email" json:"email"`
	Department string `db:"department,omitempty" json:"department,omitempty"`
	Year       string `db:"year,omitempty" json:"year,omitempty"`
	Status     string `db:"status" json:"status"`
}

type EventType struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

type Event struct {
	ID          int64     `db:"id" json:"id"`
	CollegeID   int64     `db:"college_id" json:"college_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description,omitempty" json:"description,omitempty"`
	TypeID      int64     `db:"type_id" json:"type_id"`
	Venue       string    `db:"venue,omitempty" json:"venue,omitempty"`
	StartTime   time.Time `db:"start_time" json:"start_time"`
	EndTime     time.Time `db:"end_time" json:"end_time"`
	Capacity    int       `db:"capacity" json:"capacity"`
	CreatedBy   int64     `db:"created_by" json:"created_by"`
	Semester    string    `db:"semester" json:"semester"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type Registration struct {
	ID               int64     `db:"id" json:"id"`
	StudentID        int64     `db:"student_id" json:"student_id"`
	EventID          int64     `db:"event_id" json:"event_id"`
	RegistrationTime time.Time `db:"registration_time" json:"registration_time"`
	Status           string    `db:"status" json:"status"`
}

type Attendance struct {
	ID             int64     `db:"id" json:"id"`
	RegistrationID int64     `db:"registration_id" json:"registration_id"`
	Attended       bool      `db:"attended" json:"attended"`
	CheckInTime    time.Time `db:"check_in_time" json:"check_in_time"`
}

type Feedback struct {
	ID             int64     `db:"id" json:"id"`
	RegistrationID int64     `db:"registration_id" json:"registration_id"`
	Rating         int       `db:"rating" json:"rating"`
	Comments       string    `db:"comments,omitempty" json:"comments,omitempty"`
	SubmittedAt    time.Time `db:"submitted_at" json:"submitted_at"`
}

// AuditLog rows are append-only; nothing in the system updates or deletes them.
type AuditLog struct {
	ID         int64     `db:"id" json:"id"`
	Action     string    `db:"action" json:"action"`
	EntityName string    `db:"entity_name" json:"entity_name"`
	EntityID   int64     `db:"entity_id" json:"entity_id"`
	Before     []byte    `db:"before_data,omitempty" json:"before,omitempty"`
	After      []byte    `db:"after_data,omitempty" json:"after,omitempty"`
	Timestamp  time.Time `db:"timestamp" json:"timestamp"`
}
