package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	dataDir = flag.String("data-dir", "./chancol-data", "Channel collection data directory")
	dryRun  = flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	backup  = flag.String("backup", "", "Path to back up the database before migration (default: <data-dir>/chancol.db.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Channel Collection Migration Tool - legacy -> channels")
	log.Println("========================================================")

	dbPath := filepath.Join(*dataDir, "chancol.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)

	if !*dryRun {
		backupFile := *backup
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("backup created successfully")
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := migrateLegacyToChannels(db, *dryRun); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to perform the migration.")
	} else {
		log.Println("\nMigration completed successfully.")
		log.Println("The old 'legacy' snapshot subtree has been preserved for rollback if needed.")
		log.Println("After verifying the migration, delete it with a direct bolt edit if desired.")
	}
}

// migrateLegacyToChannels copies every snapshot the "legacy" subtree
// holds (pre-migration flattened entry trees, written before this
// collection's "channels" subtree layout existed) into "channels",
// mirroring warren-migrate's tasks-bucket-to-containers-bucket copy:
// additive, reversible, and idempotent if rerun.
func migrateLegacyToChannels(db *bolt.DB, dryRun bool) error {
	var legacyCount, migratedCount int

	err := db.View(func(tx *bolt.Tx) error {
		snapshots := tx.Bucket([]byte("snapshots"))
		if snapshots == nil {
			log.Println("no 'snapshots' bucket found - database is already using the current schema")
			return nil
		}
		legacy := snapshots.Bucket([]byte("legacy"))
		if legacy == nil {
			log.Println("no 'legacy' subtree found - nothing to migrate")
			return nil
		}

		channels := snapshots.Bucket([]byte("channels"))
		if channels != nil {
			log.Println("warning: both 'legacy' and 'channels' subtrees exist")
		}

		return legacy.ForEach(func(k, v []byte) error {
			legacyCount++
			return nil
		})
	})
	if err != nil {
		return err
	}

	if legacyCount == 0 {
		return nil
	}
	log.Printf("Found %d legacy snapshot(s) to migrate", legacyCount)

	if dryRun {
		log.Println("\n[DRY RUN] Would perform the following operations:")
		log.Println("1. Create 'channels' subtree bucket if absent")
		log.Printf("2. Copy %d snapshot(s) from 'legacy' to 'channels'", legacyCount)
		log.Println("3. Preserve 'legacy' subtree for rollback")
		return nil
	}

	return db.Update(func(tx *bolt.Tx) error {
		snapshots, err := tx.CreateBucketIfNotExists([]byte("snapshots"))
		if err != nil {
			return fmt.Errorf("open snapshots bucket: %w", err)
		}
		legacy := snapshots.Bucket([]byte("legacy"))
		if legacy == nil {
			return nil
		}
		channels, err := snapshots.CreateBucketIfNotExists([]byte("channels"))
		if err != nil {
			return fmt.Errorf("create channels subtree: %w", err)
		}

		log.Println("\nMigrating legacy snapshots to channels...")
		err = legacy.ForEach(func(k, v []byte) error {
			if err := channels.Put(k, v); err != nil {
				return fmt.Errorf("copy snapshot %s: %w", k, err)
			}
			migratedCount++
			if migratedCount%10 == 0 {
				log.Printf("  migrated %d/%d...", migratedCount, legacyCount)
			}
			return nil
		})
		if err != nil {
			return err
		}

		log.Printf("migrated %d/%d snapshots to channels", migratedCount, legacyCount)
		log.Println("preserved 'legacy' subtree for rollback")
		return nil
	})
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
