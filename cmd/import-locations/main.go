package main

import (
	"flag"
	"log"
	"os"

	"github.com/vectorlink/irs-backend/internal/locationimport"
)

func main() {
	var (
		csvPath    = flag.String("csv", "", "path to location hierarchy CSV")
		households = flag.String("households", "", "optional path to household census CSV")
		dbURL      = flag.String("db", "", "DATABASE_URL")
		namespace  = flag.String("namespace", "", "UUID namespace (required, stable per deployment)")
		wipe       = flag.Bool("wipe", false, "DANGER: truncates all spray tables before importing")
	)
	flag.Parse()

	if *csvPath == "" || *dbURL == "" || *namespace == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := locationimport.Config{
		CSVPath:           *csvPath,
		HouseholdsCSVPath: *households,
		DatabaseURL:       *dbURL,
		Namespace:         *namespace,
		Wipe:              *wipe,
	}

	if err := locationimport.Run(cfg); err != nil {
		log.Fatal(err)
	}
}
