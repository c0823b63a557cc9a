// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package services

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
)

// RouterService runs the Watermill message router under supervision.
// Router.Run blocks until the context is canceled and handles its own
// handler draining, so the adaptation is direct.
type RouterService struct {
	router *message.Router
}

// NewRouterService wraps a configured message router.
func NewRouterService(router *message.Router) *RouterService {
	return &RouterService{router: router}
}

// Serve implements suture.Service.
func (r *RouterService) Serve(ctx context.Context) error {
	if err := r.router.Run(ctx); err != nil {
		return fmt.Errorf("message router failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (r *RouterService) String() string {
	return "inbound-router"
}
