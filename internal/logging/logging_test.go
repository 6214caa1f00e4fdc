/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LoggingTestSuite struct {
	suite.Suite
	saved int
}

func (s *LoggingTestSuite) SetupTest() {
	s.saved = Level()
}

func (s *LoggingTestSuite) TearDownTest() {
	SetLevel(s.saved)
}

func (s *LoggingTestSuite) TestLogColor() {
	SetLevel(LevelTrace)
	var out bytes.Buffer
	l := New("region", &out)

	l.Tracef("this is tracef %s", "hello world")
	l.Debugf("this is debugf %s", "hello world")
	l.Infof("this is infof %s", "hello world")
	l.Info("this is info")
	l.Warnf("this is warnf %s", "hello world")
	l.Errorf("this is errorf %s", "hello world")
	l.Error("this is error")

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	s.Require().Len(lines, 7)
	s.Contains(lines[0], magenta+"Trace")
	s.Contains(lines[4], yellow+"Warn")
	s.Contains(lines[5], red+"Error")
	s.Contains(lines[0], "logging_test.go:")
	s.Contains(lines[0], " region ")
}

func (s *LoggingTestSuite) TestLevelFilters() {
	SetLevel(LevelWarn)
	var out bytes.Buffer
	l := New("", &out)

	l.Debugf("hidden")
	l.Infof("hidden")
	s.Empty(out.String())
	s.False(l.TraceEnabled())

	l.Warnf("shown %d", 1)
	s.Contains(out.String(), "shown 1")
}

func (s *LoggingTestSuite) TestSetLevelIgnoresOutOfRange() {
	SetLevel(LevelInfo)
	SetLevel(LevelNoPrint + 1)
	SetLevel(-1)
	s.Equal(LevelInfo, Level())
}

func TestLoggingTestSuite(t *testing.T) {
	suite.Run(t, new(LoggingTestSuite))
}
