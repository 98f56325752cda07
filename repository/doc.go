// Package repository provides query interfaces over a store session for the
// Parent and Child records.
//
// Repositories hold no state besides their declared lock modes. Every method
// takes the session bound to the context with store.WithSession (or by
// store.Store.InTx) and fails with store.ErrNoSession without one.
//
//	parents := repository.NewParentRepository(repository.DefaultParentLocks())
//	err := st.InTx(ctx, func(ctx context.Context) error {
//		p, err := parents.PessimisticFindByID(ctx, 275)
//		if err != nil {
//			return err
//		}
//		_, err = parents.SaveAndFlush(ctx, p)
//		return err
//	})
package repository
