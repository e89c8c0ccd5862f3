package connector_test

import (
	"context"
	"fmt"
	"log"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/connector/memory"
	"github.com/ajitpratap0/tablesync/pkg/connector/registry"
)

// Example copies one key-range batch between two memory databases through
// the registry.
func Example() {
	src := memory.NewDatabase("example_src")
	dst := memory.NewDatabase("example_dst")
	defer memory.Drop("example_src")
	defer memory.Drop("example_dst")

	columns := []core.Column{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "name", Type: "varchar", Nullable: true},
	}
	src.MustCreateTable("users", columns)
	dst.MustCreateTable("users", columns)
	if err := src.Insert("users", core.Row{int64(1), "ada"}, core.Row{int64(2), "linus"}, core.Row{int64(3), "grace"}); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	source, err := registry.Create(config.DatabaseConfig{Type: "memory", Database: "example_src"})
	if err != nil {
		log.Fatal(err)
	}
	target, err := registry.Create(config.DatabaseConfig{Type: "memory", Database: "example_dst"})
	if err != nil {
		log.Fatal(err)
	}
	if err := source.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	defer source.Disconnect(ctx)
	if err := target.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	defer target.Disconnect(ctx)

	kr, err := source.GetKeyRange(ctx, "users", "id")
	if err != nil {
		log.Fatal(err)
	}
	it, err := source.ReadBatch(ctx, "users", core.Partition{
		Kind:      core.PartitionRange,
		Columns:   []string{"id", "name"},
		KeyColumn: "id",
		Lower:     kr.Min,
		Upper:     kr.Max + 1,
	})
	if err != nil {
		log.Fatal(err)
	}
	rows, err := core.Collect(it, 3)
	if err != nil {
		log.Fatal(err)
	}

	n, err := target.WriteBatch(ctx, core.WriteRequest{
		Table:      "users",
		Columns:    []string{"id", "name"},
		Rows:       rows,
		Mode:       core.WriteUpsert,
		KeyColumns: []string{"id"},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("copied %d rows from key range [%d, %d]\n", n, kr.Min, kr.Max)

	// Output:
	// copied 3 rows from key range [1, 3]
}

// Example_registryList lists the engines linked into the binary.
func Example_registryList() {
	for _, info := range registry.List() {
		if info.Name == "memory" {
			fmt.Println(info.Name, info.Capabilities)
		}
	}

	// Output:
	// memory [transactions upsert key_range fault_injection]
}
