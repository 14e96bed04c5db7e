package samples

import "fmt"

// LoadSecret reads a ground-truth secret of dimension n from a .npy file.
// Shapes (n,), (n, 1) and (1, n) are accepted; entries are centered integers.
func LoadSecret(path string, n int) ([]int64, error) {
	arr, err := readNPYFile(path)
	if err != nil {
		return nil, err
	}
	size := 1
	for _, d := range arr.Shape {
		size *= d
	}
	if size != n || len(arr.Shape) > 2 {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("want %d secret coefficients, got shape %v", n, arr.Shape)}
	}
	out := make([]int64, n)
	copy(out, arr.Data)
	return out, nil
}
