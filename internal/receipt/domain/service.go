package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Document is a rendered receipt ready to stream.
type Document struct {
	Filename string
	Content  []byte
}

type Service interface {
	Render(ctx context.Context, orderID snowflake.ID) (*Document, error)
}

var (
	ErrOrderNotFound = errors.New("order_not_found")
	ErrNotPaid       = errors.New("order_not_paid")
)
