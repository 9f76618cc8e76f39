package livepatch

import (
	"errors"
	"fmt"
)

// SiteMismatchError reports a site whose operand doesn't hold the value the
// region table says it should.
type SiteMismatchError struct {
	Region string
	Site   Site
	Want   uint32
	Got    uint32
	Err    error
}

func (e *SiteMismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s site 0x%08x: %v", e.Region, e.Site.Kind, e.Site.Addr, e.Err)
	}
	return fmt.Sprintf("%s: %s site 0x%08x: 0x%x != 0x%x", e.Region, e.Site.Kind, e.Site.Addr, e.Got, e.Want)
}

func (e *SiteMismatchError) Unwrap() error { return e.Err }

type siteDifferences []*SiteMismatchError

func (d siteDifferences) Error() error {
	errs := []error{}
	for _, diff := range d {
		if diff != nil {
			errs = append(errs, diff)
		}
	}

	return errors.Join(errs...)
}

// diffSites reads every site of r and compares it with want.
func diffSites(space AddressSpace, r Region, want func(Site) (uint32, error)) siteDifferences {
	diff := make(siteDifferences, len(r.Sites))

	for i, s := range r.Sites {
		expect, err := want(s)
		if err != nil {
			diff[i] = &SiteMismatchError{Region: r.Name, Site: s, Err: err}
			continue
		}

		got, err := readOperand(space, s.Addr, s.width())
		if err != nil {
			diff[i] = &SiteMismatchError{Region: r.Name, Site: s, Want: expect, Err: err}
			continue
		}

		if got != expect {
			diff[i] = &SiteMismatchError{Region: r.Name, Site: s, Want: expect, Got: got}
		}
	}

	return diff
}

func readOperand(space AddressSpace, addr uintptr, width int) (uint32, error) {
	var buf [4]byte
	if err := space.Read(addr, buf[:width]); err != nil {
		return 0, err
	}
	return le.Uint32(buf[:]), nil
}

func writeOperand(space AddressSpace, addr uintptr, width int, v uint32) error {
	var buf [4]byte
	le.PutUint32(buf[:], v)
	return space.Write(addr, buf[:width])
}
