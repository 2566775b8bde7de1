package session

func (m *machine) onFirstResponseTimeout() {
	m.logger.WithField("timeout", m.settings.FirstResponseTimeout.String()).Warn("No response from server")
	m.timers.cancel(timerReconnect)
	m.driver.closeClient()
	m.fail(connectionFailed(nil, "no response within %s", m.settings.FirstResponseTimeout), false)
}

// onGapCheck compares the packet total with the previous check. A stalled
// session is reconnected in place or, without reconnection, torn down with no
// caller to notify.
func (m *machine) onGapCheck() {
	total := m.driver.packetsReceived()
	if total != m.lastPackets {
		m.lastPackets = total
		m.timers.arm(timerGapCheck, m.settings.GapCheckInterval, m.onGapCheck)
		return
	}

	m.logger.WithField("packets", total).Warn("No packets received since last check")
	m.timers.cancel(timerLiveness)
	m.timers.cancel(timerSessionEnd)

	delay, retry := m.strategy.NextDelay()
	if !retry {
		m.timers.cancelAll()
		m.driver.closeSession()
		m.driver.closeClient()
		m.toInitial()
		m.resolvePending(connectionFailed(nil, "no packets received"))
		return
	}
	m.prepareResume()
	m.scheduleReconnect(delay, connectionFailed(nil, "no packets received"))
}

func (m *machine) onLiveness() {
	m.driver.options(func(err error) {
		if err != nil {
			m.logger.WithError(err).Warn("Liveness command failed")
			return
		}
		if m.state == StatePlaying {
			m.timers.arm(timerLiveness, m.sessionTimeout/3, m.onLiveness)
		}
	})
}

// onSessionEnd and onReconnectTimer act on the session that armed them. Every
// teardown cancels both, so they never reach a later session.
func (m *machine) onSessionEnd() {
	if m.state != StatePlaying {
		return
	}
	m.logger.WithField("duration", m.sessionDuration.String()).Info("Session duration elapsed")
	m.shutdown()
}

func (m *machine) onReconnectTimer() {
	switch m.state {
	case StatePlaying:
		m.restartPlaying()
	case StateReconnecting:
		m.retry()
	}
}
