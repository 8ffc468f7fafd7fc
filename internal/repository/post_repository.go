package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/d60-Lab/vinylfeed/internal/docstore"
	"github.com/d60-Lab/vinylfeed/internal/model"
	"github.com/d60-Lab/vinylfeed/internal/pagination"
)

const (
	PostsCollection = "posts"
	LikesCollection = "likes"

	postAuthorField = "userId"
	counterLikes    = "likesCount"
	counterComments = "commentsCount"
)

// PostRepository 帖子存放在文档库，按 userId 建索引
type PostRepository interface {
	// Create 使用服务端时间戳，计数器从 0 开始
	Create(ctx context.Context, p *model.Post) error
	Get(ctx context.Context, id string) (*model.Post, error)
	// ListByAuthors 单次最多 docstore.MaxInValues 个作者
	ListByAuthors(ctx context.Context, authorIDs []string, after *pagination.Cursor, limit int) ([]model.Post, error)
	Delete(ctx context.Context, id string) error
	AdjustLikes(ctx context.Context, id string, delta int64) (int64, error)
	AdjustComments(ctx context.Context, id string, delta int64) (int64, error)
	// Query 这些作者帖子的文档查询，用于实时订阅
	Query(authorIDs []string) docstore.Query
}

type postBody struct {
	UserID  string         `json:"userId"`
	Type    model.PostType `json:"type"`
	AlbumID string         `json:"albumId"`
}

type postRepository struct{ store docstore.Store }

func NewPostRepository(store docstore.Store) PostRepository { return &postRepository{store: store} }

func (r *postRepository) Create(ctx context.Context, p *model.Post) error {
	body, err := json.Marshal(postBody{UserID: p.UserID, Type: p.Type, AlbumID: p.AlbumID})
	if err != nil {
		return err
	}
	docs, err := r.store.BatchInsert(ctx, PostsCollection, []docstore.Doc{{
		ID:       p.ID,
		Index:    map[string]string{postAuthorField: p.UserID},
		Body:     body,
		Counters: map[string]int64{counterLikes: 0, counterComments: 0},
	}})
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	p.CreatedAt = docs[0].CreatedAt
	p.LikesCount, p.CommentsCount = 0, 0
	return nil
}

func (r *postRepository) Get(ctx context.Context, id string) (*model.Post, error) {
	d, err := r.store.Get(ctx, PostsCollection, id)
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	p, err := decodePost(*d)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) ListByAuthors(ctx context.Context, authorIDs []string, after *pagination.Cursor, limit int) ([]model.Post, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: PostsCollection,
		Filter:     docstore.In(postAuthorField, authorIDs),
		After:      after,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return DecodePosts(docs)
}

func (r *postRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.store.BatchDelete(ctx, PostsCollection, []string{id}); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

func (r *postRepository) AdjustLikes(ctx context.Context, id string, delta int64) (int64, error) {
	return r.store.Increment(ctx, PostsCollection, id, counterLikes, delta)
}

func (r *postRepository) AdjustComments(ctx context.Context, id string, delta int64) (int64, error) {
	return r.store.Increment(ctx, PostsCollection, id, counterComments, delta)
}

func (r *postRepository) Query(authorIDs []string) docstore.Query {
	return docstore.Query{Collection: PostsCollection, Filter: docstore.In(postAuthorField, authorIDs)}
}

func decodePost(d docstore.Doc) (model.Post, error) {
	var b postBody
	if err := json.Unmarshal(d.Body, &b); err != nil {
		return model.Post{}, fmt.Errorf("decode post %s: %w", d.ID, err)
	}
	return model.Post{
		ID:            d.ID,
		UserID:        b.UserID,
		Type:          b.Type,
		AlbumID:       b.AlbumID,
		CreatedAt:     d.CreatedAt,
		LikesCount:    d.Counters[counterLikes],
		CommentsCount: d.Counters[counterComments],
	}, nil
}

// DecodePosts 把文档转换为帖子（快照回调也用它）
func DecodePosts(docs []docstore.Doc) ([]model.Post, error) {
	out := make([]model.Post, 0, len(docs))
	for _, d := range docs {
		p, err := decodePost(d)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
