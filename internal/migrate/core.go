package migrate

import (
	"context"
	"errors"

	"github.com/roach88/actiongraph/internal/action"
	"github.com/roach88/actiongraph/internal/capture"
	"github.com/roach88/actiongraph/internal/ir"
	"github.com/roach88/actiongraph/internal/schema"
	"github.com/roach88/actiongraph/internal/store"
)

// Core migration ids.
const (
	InstallCapture = "install-change-capture"
	SystemActor    = "system-actor"
)

// SystemSlug is the slug of the built-in actor that migrations and the CLI
// act as by default.
const SystemSlug = "system"

// Core returns the migrations every store needs before Actions can run:
// installing change capture and creating the system actor.
func Core() []Migration {
	return []Migration{
		{
			ID:        InstallCapture,
			Bootstrap: true,
			Down:      dropHistory,
		},
		{
			ID:        SystemActor,
			DependsOn: []string{InstallCapture},
			Up:        createSystemActor,
			Down:      deleteSystemActor,
		},
	}
}

// dropHistory removes every recorded Action; touched-links go with them.
func dropHistory(ctx context.Context, env *Env) error {
	_, err := env.Teardown(ctx, capture.LabelAction)
	return err
}

func createSystemActor(ctx context.Context, env *Env) error {
	return env.Update(ctx, func(tx *store.Tx) error {
		if _, err := schema.ResolveSlug(ctx, tx, SystemSlug); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		id, err := tx.CreateNode(ctx, []string{schema.LabelEntity, action.LabelActor}, ir.IRObject{
			"name": ir.IRString("System"),
		})
		if err != nil {
			return err
		}
		_, err = schema.SetSlug(ctx, tx, id, SystemSlug)
		return err
	})
}

func deleteSystemActor(ctx context.Context, env *Env) error {
	return env.Update(ctx, func(tx *store.Tx) error {
		id, err := schema.ResolveSlug(ctx, tx, SystemSlug)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		aliases, err := tx.Rels(ctx, store.RelFilter{Type: schema.RelIdentifies, EndID: id})
		if err != nil {
			return err
		}
		for _, rel := range aliases {
			if err := tx.DeleteNode(ctx, rel.StartID); err != nil {
				return err
			}
		}
		return tx.DeleteNode(ctx, id)
	})
}
