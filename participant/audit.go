package participant

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/jinzhu/copier"

	"github.com/twopc-transfer/common"
)

var auditBucket = []byte("transactions")

// auditLog persists every terminal transaction on this participant to a
// bolt bucket, keyed by insertion sequence.
type auditLog struct {
	db      *bolt.DB
	options bolt.Options
}

func newAuditLog(file string) (a *auditLog, err error) {
	a = &auditLog{options: bolt.Options{Timeout: 1 * time.Second}}
	a.db, err = bolt.Open(file, 0600, &a.options)
	if err != nil {
		return
	}
	err = a.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(auditBucket)
		return err
	})
	return
}

func (a *auditLog) append(e common.AuditEntry) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(auditBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		value, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

func (a *auditLog) entries() (out []common.AuditEntry, err error) {
	err = a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(auditBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e common.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return
}

func (a *auditLog) close() {
	a.db.Close()
}

// journal snapshots a record into the audit log. The copy keeps journal
// entries independent of later record mutation.
func (p *Participant) journal(rec *record, balance int64) {
	if p.audit == nil {
		return
	}
	var e common.AuditEntry
	copier.Copy(&e, rec)
	e.Outcome = rec.State
	e.Balance = balance
	e.Time = time.Now()
	if err := p.audit.append(e); err != nil {
		p.log.Warnf("[txid %s] audit append failed: %v", rec.TxID, err)
	}
}
