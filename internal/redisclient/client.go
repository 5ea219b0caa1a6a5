package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pos-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/set_stock_level.lua
var setStockLevelScript string

// Client keeps a read model of committed stock levels. Postgres remains the
// source of truth; nothing here takes part in a sale.
type Client struct {
	rdb         *redis.Client
	stockScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		stockScript: redis.NewScript(setStockLevelScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// StockKey is the hash holding a product's snapshot
func StockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// SetStockLevel stores quantity unless a level with the same or a later row
// version is already there. It reports whether the write happened.
func (c *Client) SetStockLevel(ctx context.Context, productID int64, quantity int, version int64) (bool, error) {
	result, err := c.stockScript.Run(ctx, c.rdb, []string{StockKey(productID)}, quantity, version).Result()
	if err != nil {
		return false, fmt.Errorf("set stock level script failed: %w", err)
	}

	written, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return written == 1, nil
}

// SetStockLevels applies every level that is newer than the stored one
func (c *Client) SetStockLevels(ctx context.Context, levels []models.StockLevel) error {
	for _, level := range levels {
		if _, err := c.SetStockLevel(ctx, level.ProductID, level.Quantity, level.Version); err != nil {
			return fmt.Errorf("product %d: %w", level.ProductID, err)
		}
	}
	return nil
}

// GetStockLevel returns the snapshot quantity; ok is false when the product
// has no snapshot yet.
func (c *Client) GetStockLevel(ctx context.Context, productID int64) (quantity int, ok bool, err error) {
	raw, err := c.rdb.HGet(ctx, StockKey(productID), "quantity").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	quantity, err = strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt stock snapshot for product %d: %w", productID, err)
	}
	return quantity, true, nil
}
