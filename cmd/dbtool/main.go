// Command dbtool runs schema maintenance against the configured database.
//
//	dbtool migrate                      create or update tables
//	dbtool copy-sqlite -from ./old.db   copy every table of a sqlite file into the configured database
//	dbtool sync-sequences               move postgres id sequences past the copied rows
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"reflect"

	"campaign-dispatch/internal/config"
	"campaign-dispatch/internal/database"
	"campaign-dispatch/internal/logger"
	"campaign-dispatch/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const usage = "usage: dbtool migrate | copy-sqlite -from <path> | sync-sequences"

func main() {
	cfg := config.LoadConfig()
	log := logger.Setup(cfg.Env)
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(cfg, log, os.Args[1], os.Args[2:]); err != nil {
		log.Error("dbtool failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, cmd string, args []string) error {
	switch cmd {
	case "migrate":
		if _, err := database.Open(cfg); err != nil {
			return err
		}
		log.Info("migration completed", "driver", cfg.DBDriver)
		return nil

	case "copy-sqlite":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		from := fs.String("from", cfg.DBPath, "source sqlite file")
		fs.Parse(args)

		src, err := database.OpenSQLite(*from)
		if err != nil {
			return err
		}
		dst, err := database.Open(cfg)
		if err != nil {
			return err
		}
		if err := copyTables(src, dst, log); err != nil {
			return err
		}
		return syncSequences(dst, log)

	case "sync-sequences":
		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		return syncSequences(db, log)
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func tableName(db *gorm.DB, model any) (string, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return "", err
	}
	return stmt.Schema.Table, nil
}

// copyTables copies rows model by model, parents first, keeping ids.
func copyTables(src, dst *gorm.DB, log *slog.Logger) error {
	for _, model := range models.All() {
		table, err := tableName(dst, model)
		if err != nil {
			return err
		}
		rows := reflect.New(reflect.SliceOf(reflect.TypeOf(model).Elem()))
		if err := src.Find(rows.Interface()).Error; err != nil {
			return fmt.Errorf("read %s: %w", table, err)
		}
		n := rows.Elem().Len()
		if n == 0 {
			log.Info("table empty, skipped", "table", table)
			continue
		}

		err = dst.Transaction(func(tx *gorm.DB) error {
			return tx.Omit(clause.Associations).
				Clauses(clause.OnConflict{DoNothing: true}).
				CreateInBatches(rows.Interface(), 500).Error
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", table, err)
		}
		log.Info("table copied", "table", table, "rows", n)
	}
	return nil
}

func syncSequences(db *gorm.DB, log *slog.Logger) error {
	if db.Dialector.Name() != "postgres" {
		log.Info("sequence sync skipped", "driver", db.Dialector.Name())
		return nil
	}
	for _, model := range models.All() {
		table, err := tableName(db, model)
		if err != nil {
			return err
		}
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			return fmt.Errorf("sync sequence for %s: %w", table, err)
		}
		log.Info("sequence synced", "table", table)
	}
	return nil
}
