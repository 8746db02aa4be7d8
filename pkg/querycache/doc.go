// Package querycache keeps cached query results consistent with the
// datastore without manual invalidation at every call site.
//
// It observes a unit-of-work lifecycle through an explicit Txn object:
// before a transaction is finalized the manager collects the model names
// staged for insert, update, or delete; when the transaction commits it
// invalidates every cache entry tagged model:<Name> for those models; a
// rollback invalidates nothing. Every cached query also carries the
// catch-all "queries" tag, which InvalidateAllQueries uses for coarse
// flushes independent of any transaction.
//
// The invalidation is deliberately coarse: any write to a model drops all
// cached reads that declared a dependency on it, trading precision for the
// guarantee that a committed write never leaves a stale read visible.
//
//	mgr := querycache.NewManager(svc)
//
//	recentSongs := querycache.Cached(mgr, "recent-songs", querycache.QueryOptions{
//		TTL:    time.Hour,
//		Models: []string{"Song"},
//	}, loadRecentSongs)
//
//	txn := querycache.NewTxn()
//	mgr.Bind(txn)
//	txn.Stage(querycache.OpInsert, "Song")
//	// ... perform the datastore write ...
//	txn.Commit(ctx) // cached recent-songs results are now invalidated
//
// A read function that silently depends on a model it did not declare will
// serve stale data after writes to that model; declaring dependencies is a
// caller contract the manager cannot verify.
package querycache
