package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"

	"github.com/fridgeinv/dbsock"
	"github.com/fridgeinv/dbsock/internal/config"
)

// Push commands the server sends to other clients
var watchedCommands = []string{
	dbsock.CommandCreateStore,
	dbsock.CommandCreateInventoryItem,
	dbsock.CommandDeleteStore,
	dbsock.CommandDeleteInventoryItem,
}

// pushFilter decides whether a pushed message is printed
type pushFilter struct {
	program *vm.Program
}

// newPushFilter compiles source, e.g. `command == "create_store" && name startsWith "K"`.
// An empty source accepts everything.
func newPushFilter(source string) (*pushFilter, error) {
	if strings.TrimSpace(source) == "" {
		return &pushFilter{}, nil
	}
	program, err := expr.Compile(source, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return &pushFilter{program: program}, nil
}

func (f *pushFilter) match(command string, fields *dbsock.Fields) (bool, error) {
	if f.program == nil {
		return true, nil
	}
	env := filterEnv(fields)
	env["command"] = command
	out, err := vm.Run(f.program, env)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

// filterEnv exposes fields with their natural Go types
func filterEnv(fields *dbsock.Fields) map[string]interface{} {
	env := make(map[string]interface{}, fields.Len()+1)
	fields.Range(func(k string, v dbsock.Value) bool {
		switch v.Kind() {
		case dbsock.KindInteger:
			env[k], _ = v.Int()
		case dbsock.KindBoolean:
			env[k], _ = v.Bool()
		case dbsock.KindTimestamp:
			env[k], _ = v.Time()
		default:
			env[k] = v.String()
		}
		return true
	})
	return env
}

// watch prints push messages until the connection closes or ctx is done
func watch(ctx context.Context, cfg *config.Config, logger zerolog.Logger, collector dbsock.Collector) error {
	filter, err := newPushFilter(cfg.Watch.Filter)
	if err != nil {
		return err
	}

	h := dbsock.NewHandlers()
	for _, command := range watchedCommands {
		h.SetHandler(command, func(_ *dbsock.Conn, command string, fields *dbsock.Fields) {
			ok, err := filter.match(command, fields)
			if err != nil {
				logger.Warn().Err(err).Str("command", command).Msg("filter failed")
				return
			}
			if ok {
				fmt.Fprintf(os.Stdout, "%s %s\n", command, formatFields(fields))
			}
		})
	}

	c, err := connect(ctx, cfg, logger, h, collector)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		c.Close()
		<-c.Done()
	case <-c.Done():
	}
	return nil
}

func formatFields(f *dbsock.Fields) string {
	var b strings.Builder
	f.Range(func(k string, v dbsock.Value) bool {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v.String())
		return true
	})
	return b.String()
}
