package bench

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

var csvHeader = []string{"N", "procs", "serial_time_s", "parallel_time_s", "speedup"}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return errors.Wrap(err, "")
	}
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.N),
			strconv.Itoa(r.Procs),
			strconv.FormatFloat(r.Serial, 'f', -1, 64),
			strconv.FormatFloat(r.Parallel, 'f', -1, 64),
			strconv.FormatFloat(r.Speedup, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, "")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func WriteCSVFile(fpath string, rows []Row) error {
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err1 := WriteCSV(f, rows); err1 != nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}
