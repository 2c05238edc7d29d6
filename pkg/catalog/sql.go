package catalog

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    created       INTEGER NOT NULL,
    spec_file     TEXT NOT NULL,
    scans         TEXT NOT NULL,
    res_h         INTEGER NOT NULL,
    res_k         INTEGER NOT NULL,
    res_l         INTEGER NOT NULL,
    h_min         REAL,
    h_max         REAL,
    k_min         REAL,
    k_max         REAL,
    l_min         REAL,
    l_max         REAL,
    samples       INTEGER NOT NULL,
    filled_voxels INTEGER NOT NULL,
    total_voxels  INTEGER NOT NULL,
    output        TEXT NOT NULL,
    duration      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs (created);`

	insertRunSQL = `
INSERT INTO runs (
                  id,
                  created,
                  spec_file,
                  scans,
                  res_h, res_k, res_l,
                  h_min, h_max,
                  k_min, k_max,
                  l_min, l_max,
                  samples,
                  filled_voxels,
                  total_voxels,
                  output,
                  duration)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectRunColumns = `
SELECT
    id,
    created,
    spec_file,
    scans,
    res_h, res_k, res_l,
    h_min, h_max,
    k_min, k_max,
    l_min, l_max,
    samples,
    filled_voxels,
    total_voxels,
    output,
    duration
FROM runs`

	selectRunSQL = selectRunColumns + `
WHERE
    id = ?`

	// A negative LIMIT returns every row
	selectRunsSQL = selectRunColumns + `
ORDER BY created DESC, rowid DESC
LIMIT ?`
)
