package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		events := core.NewBaseCollection("events")
		events.ListRule = types.Pointer("")
		events.ViewRule = types.Pointer("")
		events.Fields.Add(
			&core.TextField{Name: "name", Required: true, Max: 200},
			&core.TextField{Name: "venue", Max: 200},
			&core.DateField{Name: "start_date"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		if err := app.Save(events); err != nil {
			return err
		}

		tiers := core.NewBaseCollection("ticket_tiers")
		tiers.ListRule = types.Pointer("")
		tiers.ViewRule = types.Pointer("")
		tiers.Fields.Add(
			&core.RelationField{Name: "event", CollectionId: events.Id, MaxSelect: 1, Required: true, CascadeDelete: true},
			&core.TextField{Name: "name", Required: true, Max: 100},
			&core.NumberField{Name: "price", Min: types.Pointer(0.0)},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		return app.Save(tiers)
	}, func(app core.App) error {
		return deleteCollections(app, "ticket_tiers", "events")
	})
}

// deleteCollections drops the named collections in order, skipping missing
// ones.
func deleteCollections(app core.App, names ...string) error {
	for _, name := range names {
		col, err := app.FindCollectionByNameOrId(name)
		if err != nil {
			continue
		}
		if err := app.Delete(col); err != nil {
			return err
		}
	}
	return nil
}
