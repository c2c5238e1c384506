package domain

type User struct {
	ID             int64
	OrganizationID int64
	Name           string
	Email          string
	Phone          string
	Role           string
}

type TeamMember struct {
	TeamID         int64
	UserID         int64
	OrganizationID int64
}
