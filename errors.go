/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger logs at info level when verbose and at warn level otherwise.
func newLogger(verbose bool) (*zap.Logger, error) {
	level := zap.WarnLevel
	if verbose {
		level = zap.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(logDate)
	zc.DisableCaller = true
	zc.DisableStacktrace = true

	return zc.Build()
}

func logf(cfg *Config, format string, args ...any) {
	if cfg.logger == nil {
		return
	}

	cfg.logger.Sugar().Infof(format, args...)
}

func errorf(cfg *Config, format string, args ...any) {
	if cfg.logger == nil {
		return
	}

	cfg.logger.Sugar().Errorf(format, args...)
}

func newPage(title, body, href string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon())
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"%s\">%s</a></body></html>", html.EscapeString(href), body))

	return htmlBody.String()
}
