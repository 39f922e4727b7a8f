// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package system holds request-scoped logging helpers shared by the HTTP
// layer and test loggers.
package system

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
	ReqLoggerKey = "reqLogger"
	// SubjectKey is the context key holding the authenticated token subject.
	SubjectKey = "subject"
)

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// EnrichReqLoggerWithAuth annotates the request-scoped logger with the
// authenticated subject, if any.
func EnrichReqLoggerWithAuth(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	if v, ok := c.Get(SubjectKey); ok {
		if subject, ok2 := v.(string); ok2 && subject != "" {
			reqLogger = reqLogger.With("subject", subject)
		}
	}
	return reqLogger
}
