// Package sqlite provides a SQLite-backed store.RunStore.
//
// Each run occupies one row holding the encoded snapshot together with its
// status, cursor and version. Save reads the stored version and writes the
// new row in one transaction, so two writers racing on the same version
// cannot both commit.
//
//	s, err := sqlite.NewSqliteRunStore(sqlite.SqliteOptions{
//		Path: "./runs.db",
//	})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	runnable, err := g.Compile(graph.WithStore(s))
//
// Use ":memory:" as Path for a throwaway database in tests.
package sqlite
