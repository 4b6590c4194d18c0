// ABOUTME: The import subcommand loads content views, versions, and environments from YAML fixtures.
// ABOUTME: Each version gets an archived puppet environment so it can be cloned immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/2389-research/viewclone/content"
)

// fixtures is the YAML document accepted by import:
//
//	content_views:
//	  - label: web
//	    organization: acme
//	    versions: [{number: 1}]
//	environments:
//	  - label: dev
type fixtures struct {
	ContentViews []contentViewFixture `yaml:"content_views"`
	Environments []environmentFixture `yaml:"environments"`
}

type contentViewFixture struct {
	ID           string           `yaml:"id"`
	Label        string           `yaml:"label"`
	Organization string           `yaml:"organization"`
	Versions     []versionFixture `yaml:"versions"`
}

type versionFixture struct {
	ID     string `yaml:"id"`
	Number int    `yaml:"number"`
	// Archived defaults to true; false imports a version with no archive.
	Archived *bool  `yaml:"archived"`
	PulpID   string `yaml:"pulp_id"`
}

type environmentFixture struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// imported records the ids assigned to each fixture, in file order.
type imported struct {
	Kind  string
	Label string
	ID    string
}

func runImport(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	pos, code, ok := parseFlags(fs, args, 1, "import <fixtures.yaml>", stderr)
	if !ok {
		return code
	}

	f, err := os.Open(pos[0])
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer f.Close()

	a, err := openApp(false, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer a.close()

	records, err := importFixtures(ctx, a.store, f)
	for _, r := range records {
		fmt.Fprintf(stdout, "%-20s %-24s %s\n", r.Kind, r.Label, r.ID)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// importFixtures decodes r and writes every record to store. Records written
// before a failure are returned alongside the error.
func importFixtures(ctx context.Context, store content.Store, r io.Reader) ([]imported, error) {
	var fx fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, &content.ValidationError{Field: "fixtures", Message: err.Error()}
	}

	var out []imported
	for _, cvf := range fx.ContentViews {
		if cvf.Label == "" || cvf.Organization == "" {
			return out, &content.ValidationError{Field: "content_views", Message: "label and organization are required"}
		}
		cv := &content.ContentView{ID: cvf.ID, Label: cvf.Label, OrganizationLabel: cvf.Organization}
		if err := store.CreateContentView(ctx, cv); err != nil {
			return out, err
		}
		out = append(out, imported{Kind: "content_view", Label: cv.Label, ID: cv.ID})

		for _, vf := range cvf.Versions {
			if vf.Number < 1 {
				return out, &content.ValidationError{Field: "versions.number", Message: "must be at least 1"}
			}
			v := &content.Version{ID: vf.ID, ContentViewID: cv.ID, Number: vf.Number}
			if err := store.CreateVersion(ctx, v); err != nil {
				return out, err
			}
			label := cv.Label + " v" + strconv.Itoa(v.Number)
			out = append(out, imported{Kind: "version", Label: label, ID: v.ID})

			if vf.Archived != nil && !*vf.Archived {
				continue
			}
			pulpID := vf.PulpID
			if pulpID == "" {
				pulpID = content.PulpID(cv.OrganizationLabel, cv.Label, "v"+strconv.Itoa(v.Number))
			}
			archive := &content.PuppetEnvironment{
				ContentViewID: cv.ID,
				VersionID:     v.ID,
				PulpID:        pulpID,
				State:         content.StateArchived,
			}
			if err := store.CreateEntity(ctx, archive); err != nil {
				return out, err
			}
			out = append(out, imported{Kind: "puppet_environment", Label: pulpID, ID: archive.ID})
		}
	}

	for _, ef := range fx.Environments {
		if ef.Label == "" {
			return out, &content.ValidationError{Field: "environments", Message: "label is required"}
		}
		env := &content.Environment{ID: ef.ID, Label: ef.Label}
		if err := store.CreateEnvironment(ctx, env); err != nil {
			return out, err
		}
		out = append(out, imported{Kind: "environment", Label: env.Label, ID: env.ID})
	}
	return out, nil
}
