package model

import "time"

// Like 点赞文档，ID = <postID>_<userID>，重复点赞天然幂等
type Like struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

func LikeID(postID, userID string) string { return postID + "_" + userID }
