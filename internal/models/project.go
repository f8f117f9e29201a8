package models

import "time"

// Project is the identity a codegen session works against
type Project struct {
	ID               string    `bson:"_id" json:"id"`
	Name             string    `bson:"name" json:"name"`
	Description      string    `bson:"description,omitempty" json:"description,omitempty"`
	SourceRepository string    `bson:"sourceRepository,omitempty" json:"sourceRepository,omitempty"` // e.g. https://github.com/org/repo
	Branch           string    `bson:"branch,omitempty" json:"branch,omitempty"`
	Subdirectory     string    `bson:"subdirectory,omitempty" json:"subdirectory,omitempty"`
	CreatedAt        time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Document is a plain-text specification attached to a project
type Document struct {
	ID        string    `bson:"_id" json:"id"`
	ProjectID string    `bson:"projectId" json:"projectId"`
	Title     string    `bson:"title" json:"title"`
	Body      string    `bson:"body" json:"body"` // markdown specification text
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
