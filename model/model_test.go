package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostFromMap(t *testing.T) {
	p, ok := PostFromMap(map[string]any{"id": float64(3), "userId": float64(1), "title": "hello", "body": "b"})
	assert.True(t, ok)
	assert.Equal(t, Post{ID: 3, UserID: 1, Title: "hello", Body: "b"}, p)

	_, ok = PostFromMap(map[string]any{"id": 1.5, "title": "x"})
	assert.False(t, ok)
	_, ok = PostFromMap(map[string]any{"id": 1})
	assert.False(t, ok)
}

func TestProductFromPost(t *testing.T) {
	got := ProductFromPost(Post{ID: 4, Title: "eum et est occaecati sapiente"})
	assert.Equal(t, Product{ID: 4, Name: "eum et est occaecati", Price: 40}, got)

	short := ProductFromPost(Post{ID: 1, Title: "qui"})
	assert.Equal(t, "qui", short.Name)
}
