package product

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct_Reserve(t *testing.T) {
	p := &Product{ID: "p1", Stock: 5}

	require.NoError(t, p.Reserve(3))
	assert.Equal(t, 2, p.Stock)
	assert.Equal(t, 3, p.ReservedStock)

	err := p.Reserve(3)
	var isErr *InsufficientStockError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, "p1", isErr.ProductID)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 2, p.Stock, "failed reservation must not mutate")
}

func TestProduct_CommitAndRelease(t *testing.T) {
	tests := []struct {
		name      string
		reserved  int
		qty       int
		op        func(p *Product, qty int) error
		wantErr   error
		wantStock int
		wantRes   int
	}{
		{
			name: "commit", reserved: 4, qty: 3,
			op:        (*Product).CommitReservation,
			wantStock: 0, wantRes: 1,
		},
		{
			name: "release", reserved: 4, qty: 3,
			op:        (*Product).ReleaseReservation,
			wantStock: 3, wantRes: 1,
		},
		{
			name: "commit underflow", reserved: 1, qty: 2,
			op:      (*Product).CommitReservation,
			wantErr: ErrReservationUnderflow, wantRes: 1,
		},
		{
			name: "release underflow", reserved: 0, qty: 1,
			op:      (*Product).ReleaseReservation,
			wantErr: ErrReservationUnderflow,
		},
		{
			name: "zero quantity", reserved: 2, qty: 0,
			op:      (*Product).ReleaseReservation,
			wantErr: ErrInvalidQuantity, wantRes: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Product{ID: "p1", ReservedStock: tt.reserved}
			err := tt.op(p, tt.qty)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStock, p.Stock)
			assert.Equal(t, tt.wantRes, p.ReservedStock)
		})
	}
}

// Random reserve/commit/release sequences never drive the reservation
// negative, and stock+reserved only shrinks by committed units.
func TestProduct_ReservationConservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))

	for run := range 200 {
		p := &Product{ID: "p", Stock: 20}
		sold := 0

		for range 50 {
			qty := rng.IntN(4) + 1
			before := p.Stock + p.ReservedStock

			var err error
			switch rng.IntN(3) {
			case 0:
				err = p.Reserve(qty)
				if err == nil {
					assert.Equal(t, before, p.Stock+p.ReservedStock, "run %d: reserve changed total", run)
				}
			case 1:
				err = p.CommitReservation(qty)
				if err == nil {
					sold += qty
					assert.Equal(t, before-qty, p.Stock+p.ReservedStock, "run %d: sale", run)
				}
			case 2:
				err = p.ReleaseReservation(qty)
				if err == nil {
					assert.Equal(t, before, p.Stock+p.ReservedStock, "run %d: release changed total", run)
				}
			}
			if err != nil {
				assert.Equal(t, before, p.Stock+p.ReservedStock, "run %d: failed op mutated", run)
			}

			require.GreaterOrEqual(t, p.ReservedStock, 0)
			require.GreaterOrEqual(t, p.Stock, 0)
		}
		assert.Equal(t, 20, p.Stock+p.ReservedStock+sold)
	}
}
