package eval

import (
	"database/sql"
	_ "embed"
	"encoding/json"

	"github.com/Noofbiz/trafficgat/datasets"
	"github.com/Noofbiz/trafficgat/gat"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	_ "modernc.org/sqlite"
)

// schema.sql defines the runs table (one row per evaluated predictor and
// split) and the predictions table (one row per node and future step).
//
//go:embed schema.sql
var schemaSQL string

// Store persists evaluation runs in a sqlite database.
type Store struct {
	*sql.DB
}

// OpenStore opens (creating if needed) the sqlite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening sqlite database %q", path)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "initializing schema of %q", path)
	}
	klog.V(1).Infof("opened result store %q", path)
	return &Store{db}, nil
}

// Run is a stored evaluation run.
type Run struct {
	ID        uuid.UUID
	Predictor string
	Split     string
	Config    json.RawMessage
	Metrics   Metrics
	// CreatedAt is the sqlite timestamp of the run start.
	CreatedAt string
	Finished  bool
}

// StartRun records a new run and returns its id. config is stored as JSON.
func (s *Store) StartRun(predictor, split string, config any) (uuid.UUID, error) {
	id := uuid.New()
	blob, err := json.Marshal(config)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "encoding run config")
	}
	_, err = s.Exec(`INSERT INTO runs (run_id, predictor, split, config) VALUES (?, ?, ?, ?)`,
		id.String(), predictor, split, string(blob))
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to insert run")
	}
	return id, nil
}

// RecordBatch stores the absolute predicted and true positions of every node
// and future step of batch.
func (s *Store) RecordBatch(runID uuid.UUID, batch *datasets.GraphBatch, pred *gat.Prediction) error {
	if pred.NumNodes != batch.NumNodes || pred.FutureFrames != batch.FutureFrames {
		return errors.Errorf("prediction for %d nodes × %d steps does not match batch of %d nodes × %d steps",
			pred.NumNodes, pred.FutureFrames, batch.NumNodes, batch.FutureFrames)
	}
	last := batch.LastPositions()
	predicted := pred.Positions(last)
	target, mask := batch.TargetOffsets()

	tx, err := s.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	stmt, err := tx.Prepare(`INSERT INTO predictions (run_id, scene, node, step, pred_x, pred_y, true_x, true_y, valid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "failed to prepare insert")
	}
	defer stmt.Close()
	f := batch.FutureFrames
	for i := range batch.NumNodes {
		k := batch.GraphOf(i)
		scene, node := batch.Scenes[k], i-batch.NodeOffsets[k]
		for t := range f {
			j := (i*f + t) * 2
			valid := 0
			if mask[i*f+t] != 0 {
				valid = 1
			}
			_, err := stmt.Exec(runID.String(), scene, node, t,
				predicted[j], predicted[j+1], last[2*i]+target[j], last[2*i+1]+target[j+1], valid)
			if err != nil {
				tx.Rollback()
				return errors.Wrapf(err, "failed to insert prediction for scene %d node %d step %d", scene, node, t)
			}
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit predictions")
}

// FinishRun stores the final metrics of a run.
func (s *Store) FinishRun(runID uuid.UUID, m Metrics) error {
	steps, err := json.Marshal(m.StepRMSE)
	if err != nil {
		return errors.Wrap(err, "encoding per-step rmse")
	}
	res, err := s.Exec(`UPDATE runs SET ade = ?, fde = ?, rmse = ?, step_rmse = ?, steps = ?, nodes = ?, finished_at = CURRENT_TIMESTAMP
		WHERE run_id = ?`, m.ADE, m.FDE, m.RMSE, string(steps), m.Steps, m.Nodes, runID.String())
	if err != nil {
		return errors.Wrap(err, "failed to update run")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("run %s not found", runID)
	}
	return nil
}

// Run loads a stored run.
func (s *Store) Run(runID uuid.UUID) (*Run, error) {
	var (
		r              Run
		id, config     string
		ade, fde, rmse sql.NullFloat64
		stepRMSE       sql.NullString
		steps, nodes   sql.NullInt64
		finishedAt     sql.NullString
	)
	err := s.QueryRow(`SELECT run_id, predictor, split, config, ade, fde, rmse, step_rmse, steps, nodes, created_at, finished_at
		FROM runs WHERE run_id = ?`, runID.String()).
		Scan(&id, &r.Predictor, &r.Split, &config, &ade, &fde, &rmse, &stepRMSE, &steps, &nodes, &r.CreatedAt, &finishedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load run %s", runID)
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, errors.Wrapf(err, "stored run id %q", id)
	}
	r.Config = json.RawMessage(config)
	r.Finished = finishedAt.Valid
	r.Metrics = Metrics{ADE: ade.Float64, FDE: fde.Float64, RMSE: rmse.Float64, Steps: int(steps.Int64), Nodes: int(nodes.Int64)}
	if stepRMSE.Valid {
		if err := json.Unmarshal([]byte(stepRMSE.String), &r.Metrics.StepRMSE); err != nil {
			return nil, errors.Wrapf(err, "decoding per-step rmse of run %s", runID)
		}
	}
	return &r, nil
}

// CountPredictions returns the number of stored prediction rows of a run and
// how many of them are valid.
func (s *Store) CountPredictions(runID uuid.UUID) (total, valid int, err error) {
	err = s.QueryRow(`SELECT COUNT(*), COALESCE(SUM(valid), 0) FROM predictions WHERE run_id = ?`, runID.String()).Scan(&total, &valid)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to count predictions of run %s", runID)
	}
	return total, valid, nil
}
