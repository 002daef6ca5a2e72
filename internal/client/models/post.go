package models

type PostCategory string

const (
	CategoryTips       PostCategory = "tips"
	CategoryQuestion   PostCategory = "question"
	CategoryShowcase   PostCategory = "showcase"
	CategoryDiscussion PostCategory = "discussion"
	CategoryHarvest    PostCategory = "harvest"
	CategoryProblem    PostCategory = "problem"
)

type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostPublished PostStatus = "published"
	PostArchived  PostStatus = "archived"
)

type CommunityPost struct {
	Base
	Title     string       `json:"title" validate:"required,min=3,max=200"`
	Content   string       `json:"content" validate:"required,min=1,max=10000"`
	Category  PostCategory `json:"category" validate:"required,oneof=tips question showcase discussion harvest problem"`
	Author    string       `json:"author" validate:"required,min=1,max=50"`
	Tags      []string     `json:"tags,omitempty" validate:"max=10,unique,dive,min=1,max=30"`
	Likes     int          `json:"likes" validate:"min=0"`
	Status    PostStatus   `json:"status" validate:"required,oneof=draft published archived"`
	ImageURLs []string     `json:"imageUrls,omitempty" validate:"max=5,dive,url"`
}

func (*CommunityPost) EntityType() EntityType { return TypePost }
