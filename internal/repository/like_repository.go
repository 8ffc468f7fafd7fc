package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/d60-Lab/vinylfeed/internal/docstore"
	"github.com/d60-Lab/vinylfeed/internal/model"
)

// LikeRepository 点赞文档，id = <postID>_<userID>
type LikeRepository interface {
	// Create 已点赞时返回 false
	Create(ctx context.Context, postID, userID string) (*model.Like, bool, error)
	// Delete 不存在为 no-op，返回是否删除
	Delete(ctx context.Context, id string) (bool, error)
	ListByPost(ctx context.Context, postID string) ([]model.Like, error)
	Exists(ctx context.Context, postID, userID string) (bool, error)
}

type likeBody struct {
	PostID string `json:"postId"`
	UserID string `json:"userId"`
}

type likeRepository struct{ store docstore.Store }

func NewLikeRepository(store docstore.Store) LikeRepository { return &likeRepository{store: store} }

func (r *likeRepository) Create(ctx context.Context, postID, userID string) (*model.Like, bool, error) {
	body, err := json.Marshal(likeBody{PostID: postID, UserID: userID})
	if err != nil {
		return nil, false, err
	}
	d, created, err := r.store.InsertIfAbsent(ctx, LikesCollection, docstore.Doc{
		ID:    model.LikeID(postID, userID),
		Index: map[string]string{"postId": postID, "userId": userID},
		Body:  body,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create like: %w", err)
	}
	return &model.Like{ID: d.ID, PostID: postID, UserID: userID, CreatedAt: d.CreatedAt}, created, nil
}

func (r *likeRepository) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := r.store.BatchDelete(ctx, LikesCollection, []string{id})
	if err != nil {
		return false, fmt.Errorf("delete like: %w", err)
	}
	return len(deleted) > 0, nil
}

func (r *likeRepository) ListByPost(ctx context.Context, postID string) ([]model.Like, error) {
	docs, err := r.store.Query(ctx, docstore.Query{Collection: LikesCollection, Filter: docstore.Eq("postId", postID)})
	if err != nil {
		return nil, fmt.Errorf("list likes: %w", err)
	}
	out := make([]model.Like, 0, len(docs))
	for _, d := range docs {
		var b likeBody
		if err := json.Unmarshal(d.Body, &b); err != nil {
			return nil, fmt.Errorf("decode like %s: %w", d.ID, err)
		}
		out = append(out, model.Like{ID: d.ID, PostID: b.PostID, UserID: b.UserID, CreatedAt: d.CreatedAt})
	}
	return out, nil
}

func (r *likeRepository) Exists(ctx context.Context, postID, userID string) (bool, error) {
	_, err := r.store.Get(ctx, LikesCollection, model.LikeID(postID, userID))
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}
