package secretariat

// Decision is the outcome of a policy check. Reason is set when denied.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err converts a denied decision into a forbidden error
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return NewForbidden(d.Reason)
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// PolicyInput is everything a decision may look at. Acting is only
// consulted for delegated actions, where ActingIsTarget is false.
type PolicyInput struct {
	Target         *DirectoryRecord
	ActingIsTarget bool
	Acting         *DirectoryRecord
}

const (
	ReasonUnknownMember          = "The member does not exist in the directory."
	ReasonMemberExpired          = "The member account has expired."
	ReasonActingMissing          = "Your own member record could not be found."
	ReasonActingExpired          = "Your member account has expired."
	ReasonCannotCreateEmail      = "You cannot create an email account for this member."
	ReasonCannotRedirect         = "You cannot manage redirections for this member."
	ReasonCannotChangePassword   = "You cannot change the password of this member."
	ReasonDeleteRequiresExpiry   = "The email account of a member can only be deleted once their account has expired."
	ReasonCannotDeleteRedirect   = "You cannot delete this redirection."
	ReasonCannotChangeEndDateFor = "You cannot change the end date of a member that does not exist."
)

// Policy groups the authorization rules for account actions. It holds no
// state and every method is a pure function of its input.
type Policy struct{}

// CanCreateEmail requires a live target allowed to receive a mailbox, and for
// delegated requests a live acting member.
func (Policy) CanCreateEmail(in PolicyInput) Decision {
	if d := liveTarget(in.Target); !d.Allowed {
		return d
	}
	if !in.Target.Permissions.CanCreateEmail {
		return deny(ReasonCannotCreateEmail)
	}
	return liveDelegate(in)
}

// CanCreateRedirection mirrors CanCreateEmail on the redirection permission
func (Policy) CanCreateRedirection(in PolicyInput) Decision {
	if d := liveTarget(in.Target); !d.Allowed {
		return d
	}
	if !in.Target.Permissions.CanCreateRedirection {
		return deny(ReasonCannotRedirect)
	}
	return liveDelegate(in)
}

// CanChangePassword has no requirement on the acting member
func (Policy) CanChangePassword(in PolicyInput) Decision {
	if d := liveTarget(in.Target); !d.Allowed {
		return d
	}
	if !in.Target.Permissions.CanChangePassword {
		return deny(ReasonCannotChangePassword)
	}
	return allow()
}

// CanDeleteRedirection looks at the acting member's own record. The target
// of the path does not need a directory entry.
func (Policy) CanDeleteRedirection(acting *DirectoryRecord) Decision {
	if acting == nil || !acting.Permissions.CanCreateRedirection {
		return deny(ReasonCannotDeleteRedirect)
	}
	return allow()
}

// CanDeleteEmail lets members delete their own mailbox at any time. Someone
// else's mailbox can only go once its owner has expired.
func (Policy) CanDeleteEmail(target *DirectoryRecord, actingIsTarget bool) Decision {
	if actingIsTarget {
		return allow()
	}
	if target == nil || !target.IsExpired {
		return deny(ReasonDeleteRequiresExpiry)
	}
	return allow()
}

func (Policy) CanRequestEndDateChange(target *DirectoryRecord) Decision {
	if target == nil || !target.Exists {
		return deny(ReasonCannotChangeEndDateFor)
	}
	return allow()
}

func liveTarget(target *DirectoryRecord) Decision {
	if target == nil || !target.Exists {
		return deny(ReasonUnknownMember)
	}
	if target.IsExpired {
		return deny(ReasonMemberExpired)
	}
	return allow()
}

func liveDelegate(in PolicyInput) Decision {
	if in.ActingIsTarget {
		return allow()
	}
	if in.Acting == nil || !in.Acting.Exists {
		return deny(ReasonActingMissing)
	}
	if in.Acting.IsExpired {
		return deny(ReasonActingExpired)
	}
	return allow()
}
