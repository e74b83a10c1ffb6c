package mcmon

// Roster is the ordered list of users currently on the server. Insertion order
// is preserved, and duplicate names are kept as separate entries. A Roster is
// not safe for concurrent use; the Supervisor guards its roster with its own
// lock.
type Roster struct {
	users []OnlineUser
}

// Apply updates the roster from a login or logout event. Other events are
// ignored.
func (r *Roster) Apply(ev Event) {
	switch ev := ev.(type) {
	case *EventUserLoggedIn:
		r.Add(ev.OnlineUser)
	case *EventUserLoggedOut:
		r.Remove(ev.User)
	}
}

// Add appends the user.
func (r *Roster) Add(u OnlineUser) {
	r.users = append(r.users, u)
}

// Remove removes the first entry with the given name. False is returned if
// there's no such entry.
func (r *Roster) Remove(user string) bool {
	for i, u := range r.users {
		if u.User == user {
			r.users = append(r.users[:i], r.users[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes everyone.
func (r *Roster) Clear() {
	r.users = nil
}

// Len returns the number of entries.
func (r *Roster) Len() int {
	return len(r.users)
}

// Snapshot returns a copy of the entries. The returned slice is never nil.
func (r *Roster) Snapshot() []OnlineUser {
	users := make([]OnlineUser, len(r.users))
	copy(users, r.users)
	return users
}
