package api

import "github.com/starford/talkdrop/internal/models"

// AddCommentRequest is the request body for adding a comment.
type AddCommentRequest struct {
	Body string `json:"body" example:"Slides are missing page 3" validate:"required"`
}

// UploadResponse is returned after files were attached to a talk.
type UploadResponse struct {
	Files []string `json:"files" example:"slides.pdf" validate:"required"`
}

// CommentListResponse wraps the comments of a talk.
type CommentListResponse struct {
	Comments []models.CommentView `json:"comments" validate:"required"`
}

// TalkList is the talk index response type.
type TalkList = models.TalkList

// TalkDetail is the single talk response type.
type TalkDetail = models.TalkDetail
