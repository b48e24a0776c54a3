package main

import (
	"fmt"
	"sync"
	"time"

	"occindex/db"
	"occindex/internal/stm"
)

func main() {
	database := db.New()

	// Test 1: normal insert and read
	err := database.Update(func(txn *stm.Txn) error {
		_, _ = database.Accounts.InsertRow(txn, "alice", db.Account{Owner: "alice", Balance: 100}, false)
		return nil
	})
	if err != nil {
		panic(err)
	}

	err = database.Update(func(txn *stm.Txn) error {
		ok, found, handle, value := database.Accounts.SelectRow(txn, "alice", true)
		if !ok || !found {
			return fmt.Errorf("alice: select failed")
		}
		return database.Accounts.UpdateRow(txn, handle, db.Account{Owner: value.Owner, Balance: value.Balance + 50})
	})
	if err != nil {
		panic(err)
	}

	_ = database.View(func(txn *stm.Txn) error {
		ok, found, _, value := database.Accounts.SelectRow(txn, "alice", false)
		fmt.Println(ok, found, value.Balance)
		return nil
	})

	// Test 2: two transactions racing to update the same account; exactly
	// one must commit, the other retries until it sees the winner's write.
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		err := database.Update(func(txn *stm.Txn) error {
			ok, found, handle, value := database.Accounts.SelectRow(txn, "alice", true)
			if !ok || !found {
				return fmt.Errorf("alice: select failed")
			}
			time.Sleep(15 * time.Millisecond)
			return database.Accounts.UpdateRow(txn, handle, db.Account{Owner: value.Owner, Balance: value.Balance + 1})
		})
		if err != nil {
			panic(err)
		}
	}()

	go func() {
		defer wg.Done()
		err := database.Update(func(txn *stm.Txn) error {
			ok, found, handle, value := database.Accounts.SelectRow(txn, "alice", true)
			if !ok || !found {
				return fmt.Errorf("alice: select failed")
			}
			time.Sleep(5 * time.Millisecond)
			return database.Accounts.UpdateRow(txn, handle, db.Account{Owner: value.Owner, Balance: value.Balance + 2})
		})
		if err != nil {
			panic(err)
		}
	}()

	wg.Wait()

	_ = database.View(func(txn *stm.Txn) error {
		ok, found, _, value := database.Accounts.SelectRow(txn, "alice", false)
		fmt.Println(ok, found, value.Balance)
		return nil
	})

	// Test 3: ordered ledger, append-only, range-scanned in insertion order.
	for _, desc := range []string{"opened account", "deposit 50", "+1", "+2"} {
		d := desc
		err := database.Update(func(txn *stm.Txn) error {
			id := database.GenLedgerID()
			_, _ = database.Ledger.InsertRow(txn, id, db.LedgerEntry{Description: d}, false)
			return nil
		})
		if err != nil {
			panic(err)
		}
	}

	_ = database.View(func(txn *stm.Txn) error {
		ok := database.Ledger.RangeScan(txn, 0, ^uint64(0), false, func(id uint64, entry db.LedgerEntry) bool {
			fmt.Println(id, entry.Description)
			return true
		})
		fmt.Println("scan ok:", ok)
		return nil
	})

	database.Reclaim()
	database.Stop()
}
