package epub

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
)

// Write reassembles the container at dest. All entries keep their original
// names and order; the mimetype entry is emitted first and uncompressed as
// the EPUB OCF format requires. The archive is built in a temporary file
// in dest's directory and renamed into place, so a partial container is
// never observable at dest.
func Write(c *Container, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".epubtran-*.epub")
	if err != nil {
		return fmt.Errorf("create temporary container: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := writeArchive(tmp, c); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close container: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("replace %s: %w", dest, err)
	}
	return nil
}

func writeArchive(f *os.File, c *Container) error {
	w := zip.NewWriter(f)

	// mimetype must be the first entry and stored without compression.
	for _, e := range c.entries {
		if e.Name == "mimetype" {
			if err := writeEntry(w, e.Name, e.Data, zip.Store); err != nil {
				return err
			}
			break
		}
	}
	for _, e := range c.entries {
		if e.Name == "mimetype" {
			continue
		}
		if err := writeEntry(w, e.Name, e.Data, e.Method); err != nil {
			return err
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize container: %w", err)
	}
	return nil
}

func writeEntry(w *zip.Writer, name string, data []byte, method uint16) error {
	hw, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := hw.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}
