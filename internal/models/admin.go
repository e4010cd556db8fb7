package models

import "time"

type DashboardStats struct {
	TotalUsers      int          `json:"totalUsers"`
	ActiveUsers     int          `json:"activeUsers"`
	TotalMovies     int          `json:"totalMovies"`
	TotalRatings    int          `json:"totalRatings"`
	TotalComments   int          `json:"totalComments"`
	PendingComments int          `json:"pendingComments"`
	RecentUsers     []RecentUser `json:"recentUsers"`
}

type RecentUser struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is an end-user account as listed by the admin users endpoint.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName *string    `json:"display_name"`
	AvatarURL   *string    `json:"avatar_url"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	Count       *UserCount `json:"_count,omitempty"`
}

type UserCount struct {
	Ratings  int `json:"ratings"`
	Comments int `json:"comments"`
}

type PageMeta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type UsersPage struct {
	Data []User   `json:"data"`
	Meta PageMeta `json:"meta"`
}

type UserQuery struct {
	Page   int
	Limit  int
	Search string
}

type FeaturedList struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	IsPublished bool      `json:"is_published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	OwnerID     string    `json:"ownerId"`
	Count       struct {
		Movies int `json:"movies"`
	} `json:"_count"`
}
