package locationimport

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vectorlink/irs-backend/internal/spray"
)

type Config struct {
	CSVPath           string
	HouseholdsCSVPath string
	DatabaseURL       string
	Namespace         string
	Wipe              bool
}

// Run loads the administrative hierarchy (and optionally the enumerated
// household census) into the spray schema. Idempotent: deterministic ids make
// re-imports update rows in place. Wipe truncates all spray tables first and
// is meant for rebuilding a deployment from scratch.
func Run(cfg Config) error {
	ns, err := uuid.Parse(cfg.Namespace)
	if err != nil {
		return fmt.Errorf("invalid namespace uuid: %w", err)
	}

	rows, err := ParseCSV(cfg.CSVPath)
	if err != nil {
		return err
	}

	var households []HouseholdRow
	if cfg.HouseholdsCSVPath != "" {
		if households, err = ParseHouseholdsCSV(cfg.HouseholdsCSVPath); err != nil {
			return err
		}
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if cfg.Wipe {
			if err := wipeSpray(tx); err != nil {
				return err
			}
		}

		areaIDs := map[string]uuid.UUID{}
		seenParents := map[uuid.UUID]bool{}

		for _, r := range rows {
			districtID := LocationID(ns, string(spray.LevelDistrict), r.DistrictCode)
			if !seenParents[districtID] {
				seenParents[districtID] = true
				if err := upsertLocation(tx, districtID, r.DistrictCode, r.DistrictName, spray.LevelDistrict, nil, 0, nil, ""); err != nil {
					return fmt.Errorf("district %s: %w", r.DistrictCode, err)
				}
			}

			rhcID := LocationID(ns, string(spray.LevelRHC), r.DistrictCode, r.RHCCode)
			if !seenParents[rhcID] {
				seenParents[rhcID] = true
				if err := upsertLocation(tx, rhcID, r.RHCCode, r.RHCName, spray.LevelRHC, &districtID, 0, nil, ""); err != nil {
					return fmt.Errorf("rhc %s: %w", r.RHCCode, err)
				}
			}

			areaID := LocationID(ns, string(spray.LevelTargetArea), r.DistrictCode, r.RHCCode, r.AreaCode)
			if err := upsertLocation(tx, areaID, r.AreaCode, r.AreaName, spray.LevelTargetArea, &rhcID, r.Structures, r.Priority, r.WKT); err != nil {
				return fmt.Errorf("target area %s: %w", r.AreaCode, err)
			}
			areaIDs[r.AreaCode] = areaID
		}

		for _, hh := range households {
			var locationID *uuid.UUID
			if id, ok := areaIDs[hh.AreaCode]; ok {
				locationID = &id
			}
			if err := upsertHousehold(tx, ns, hh, locationID); err != nil {
				return fmt.Errorf("household %s: %w", hh.HHID, err)
			}
		}

		return nil
	})
}

func upsertLocation(tx *gorm.DB, id uuid.UUID, code, name string, level spray.Level, parentID *uuid.UUID, structures int, priority *int, wkt string) error {
	err := tx.Exec(`
		INSERT INTO spray.locations (id, code, name, level, parent_id, structures, visited, sprayed, priority)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?)
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			parent_id  = EXCLUDED.parent_id,
			structures = EXCLUDED.structures,
			priority   = COALESCE(EXCLUDED.priority, locations.priority)
	`, id, code, name, level, parentID, structures, priority).Error
	if err != nil {
		return err
	}
	if wkt == "" {
		return nil
	}
	return tx.Exec(`UPDATE spray.locations SET geom = ST_GeomFromText(?, 4326) WHERE id = ?`,
		wkt, id).Error
}

func upsertHousehold(tx *gorm.DB, ns uuid.UUID, hh HouseholdRow, locationID *uuid.UUID) error {
	point := "POINT(" +
		strconv.FormatFloat(hh.Lng, 'f', -1, 64) + " " +
		strconv.FormatFloat(hh.Lat, 'f', -1, 64) + ")"
	return tx.Exec(`
		INSERT INTO spray.households (id, hh_id, geom, location_id, sprayable)
		VALUES (?, ?, ST_GeomFromText(?, 4326), ?, true)
		ON CONFLICT (hh_id) DO UPDATE SET
			geom        = EXCLUDED.geom,
			location_id = COALESCE(EXCLUDED.location_id, households.location_id)
	`, HouseholdID(ns, hh.HHID), hh.HHID, point, locationID).Error
}

func wipeSpray(tx *gorm.DB) error {
	// Field data goes too: a reference rebuild invalidates resolved links.
	sql := `
		TRUNCATE TABLE
			spray.performance_reports,
			spray.spray_points,
			spray.spray_days,
			spray.households,
			spray.locations
		CASCADE;
	`
	return tx.Exec(sql).Error
}
