// Package mapper converts between geographic coordinates and H3 cells.
package mapper

type Interface interface {
	CellForPoint(lat, lon float64, res int) (string, error)
	CellCenter(cell string) (lat, lon float64, err error)
}
